package model

// NegativePair is an unordered pair "never report these two as matches"
// (spec §3). Order within the pair is not significant.
type NegativePair struct {
	MD5A string
	MD5B string
}
