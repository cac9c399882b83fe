// Package model holds the data types shared by the store and the index
// components: MediaRecord, MatchRange, SearchParams, and the match result
// types. None of these types own a database connection or a tree; they are
// plain data, per the "Ownership & lifetimes" note in spec §3.
package model

import "strings"

// MediaType enumerates the kinds of record the store tracks.
type MediaType int

const (
	TypeImage MediaType = 1
	TypeVideo MediaType = 2
	TypeAudio MediaType = 3
)

// MediaRecord is the identity of one indexed item (spec §3). Id is the
// primary key, monotonic within a database, assigned by sqlite on insert.
type MediaRecord struct {
	ID           uint32 `gorm:"column:id;primaryKey;autoIncrement"`
	Type         MediaType `gorm:"column:type"`
	RelativePath string `gorm:"column:path;unique"`
	Width        int    `gorm:"column:width"`
	Height       int    `gorm:"column:height"`
	MD5          string `gorm:"column:md5"`
	// DCTHash is stored as the two's-complement bit pattern of a uint64
	// in a signed 64-bit database column (spec §6, "Hash wire format").
	DCTHash      int64 `gorm:"column:dct_hash"`

	// OriginalSize and Compression support the similarTo match-flag
	// annotations (SPEC_FULL supplemented feature #2). They are supplied
	// by the caller at add time, not derived by a scanner here.
	OriginalSize int64   `gorm:"column:original_size"`
	Compression  float64 `gorm:"column:compression_ratio"`
}

func (MediaRecord) TableName() string { return "media" }

// Hash returns the DCT hash reinterpreted as an unsigned 64-bit value,
// undoing the sign-extension-free storage described in spec §6.
func (m MediaRecord) Hash() uint64 { return uint64(m.DCTHash) }

// SetHash stores a perceptual hash, preserving its bit pattern.
func (m *MediaRecord) SetHash(h uint64) { m.DCTHash = int64(h) }

// Resolution is width*height, used by similarTo's MatchBiggerDimensions flag.
func (m MediaRecord) Resolution() int { return m.Width * m.Height }

// ArchivePaths splits an archive-member path into the archive's relative
// path and the member name within it. Returns ok=false for a plain path.
func (m MediaRecord) ArchivePaths() (archive, member string, ok bool) {
	idx := strings.Index(m.RelativePath, ":")
	if idx < 0 {
		return "", "", false
	}
	return m.RelativePath[:idx], m.RelativePath[idx+1:], true
}

// EncodeArchiveMember builds the "<archive-relpath>:<member-path>" form.
func EncodeArchiveMember(archiveRelPath, memberPath string) string {
	return archiveRelPath + ":" + memberPath
}

// ParentDir returns the path with its final path segment removed, used by
// filterParent to decide whether a whole match group lives in one directory.
func ParentDir(path string) string {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return ""
	}
	return path[:i]
}
