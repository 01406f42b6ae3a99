// Package ebook defines the book model shared by all input sources.
package ebook

// Chapter is one spoken unit of a book, in reading order.
type Chapter struct {
	Index int
	Title string
	Text  string
}

// Metadata describes the book for tagging the packaged audiobook.
// CoverPath points at an extracted cover image on disk; empty when the
// source carries no cover. The file is temporary and owned by the caller.
type Metadata struct {
	Title     string
	Author    string
	Language  string
	CoverPath string
}

// Book is an ordered set of chapters plus its metadata.
type Book struct {
	Metadata Metadata
	Chapters []Chapter
}

// Source reads a book from a file on disk.
type Source interface {
	Read(path string) (*Book, error)
}
