// Package epub reads EPUB 2 and 3 containers into the shared book model.
// Chapters follow the spine; titles come from the TOC when one matches.
package epub

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/narroapp/narro/internal/ebook"
)

// Reader reads EPUB files. The zero value is not usable; call NewReader.
type Reader struct {
	// SkipNonLinear drops spine items marked linear="no" (covers,
	// copyright pages and other auxiliary content).
	SkipNonLinear bool

	logger *log.Logger
}

func NewReader(logger *log.Logger) *Reader {
	if logger == nil {
		logger = log.Default()
	}
	return &Reader{SkipNonLinear: true, logger: logger}
}

var _ ebook.Source = (*Reader)(nil)

// Read opens the container and produces the book in spine order. Spine
// documents with no extractable text are dropped.
func (r *Reader) Read(epubPath string) (*ebook.Book, error) {
	zr, err := zip.OpenReader(epubPath)
	if err != nil {
		return nil, fmt.Errorf("open epub: %w", err)
	}
	defer zr.Close()

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	opfPath, err := containerRootfile(files)
	if err != nil {
		return nil, err
	}
	pkg, err := readPackage(files, opfPath)
	if err != nil {
		return nil, err
	}
	opfDir := path.Dir(opfPath)

	manifest := make(map[string]manifestItem, len(pkg.Manifest.Items))
	for _, item := range pkg.Manifest.Items {
		manifest[item.ID] = item
	}

	tocMap, basenameMap := r.tocMaps(files, pkg, manifest, opfDir)

	stem := strings.TrimSuffix(filepath.Base(epubPath), filepath.Ext(epubPath))
	meta := ebook.Metadata{
		Title:    firstNonEmpty(pkg.Metadata.Titles, stem),
		Author:   firstNonEmpty(pkg.Metadata.Creators, ""),
		Language: firstNonEmpty(pkg.Metadata.Languages, ""),
	}
	if cover, err := r.extractCover(files, pkg, manifest, opfDir); err != nil {
		r.logger.Warn("cover extraction failed", "err", err)
	} else {
		meta.CoverPath = cover
	}

	var chapters []ebook.Chapter
	for _, ref := range pkg.Spine.ItemRefs {
		if r.SkipNonLinear && strings.EqualFold(strings.TrimSpace(ref.Linear), "no") {
			continue
		}
		item, ok := manifest[ref.IDRef]
		if !ok {
			r.logger.Debug("spine item missing from manifest", "idref", ref.IDRef)
			continue
		}
		if !isDocumentType(item.MediaType) {
			continue
		}

		docPath := resolveRef(opfDir, item.Href)
		f, ok := files[docPath]
		if !ok {
			r.logger.Debug("spine document missing from archive", "path", docPath)
			continue
		}
		content, err := readZipFile(f)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", docPath, err)
		}

		htmlTitle, text := extractTitleAndText(content)
		text = strings.TrimSpace(text)
		if text == "" {
			r.logger.Debug("skipping empty spine document", "path", docPath)
			continue
		}

		index := len(chapters)
		chapters = append(chapters, ebook.Chapter{
			Index: index,
			Title: resolveTitle(docPath, tocMap, basenameMap, htmlTitle, index),
			Text:  text,
		})
	}

	return &ebook.Book{Metadata: meta, Chapters: chapters}, nil
}

type opfPackage struct {
	Metadata struct {
		Titles    []string `xml:"title"`
		Creators  []string `xml:"creator"`
		Languages []string `xml:"language"`
		Metas     []struct {
			Name    string `xml:"name,attr"`
			Content string `xml:"content,attr"`
		} `xml:"meta"`
	} `xml:"metadata"`
	Manifest struct {
		Items []manifestItem `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		Toc      string `xml:"toc,attr"`
		ItemRefs []struct {
			IDRef  string `xml:"idref,attr"`
			Linear string `xml:"linear,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

type manifestItem struct {
	ID         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr"`
}

func containerRootfile(files map[string]*zip.File) (string, error) {
	f, ok := files["META-INF/container.xml"]
	if !ok {
		return "", fmt.Errorf("not an epub: missing META-INF/container.xml")
	}
	content, err := readZipFile(f)
	if err != nil {
		return "", fmt.Errorf("read container.xml: %w", err)
	}

	var c struct {
		Rootfiles []struct {
			FullPath string `xml:"full-path,attr"`
		} `xml:"rootfiles>rootfile"`
	}
	if err := xml.Unmarshal(content, &c); err != nil {
		return "", fmt.Errorf("parse container.xml: %w", err)
	}
	if len(c.Rootfiles) == 0 || c.Rootfiles[0].FullPath == "" {
		return "", fmt.Errorf("container.xml declares no rootfile")
	}
	return path.Clean(c.Rootfiles[0].FullPath), nil
}

func readPackage(files map[string]*zip.File, opfPath string) (*opfPackage, error) {
	f, ok := files[opfPath]
	if !ok {
		return nil, fmt.Errorf("package document %s missing from archive", opfPath)
	}
	content, err := readZipFile(f)
	if err != nil {
		return nil, fmt.Errorf("read package document: %w", err)
	}
	var pkg opfPackage
	if err := xml.Unmarshal(content, &pkg); err != nil {
		return nil, fmt.Errorf("parse package document: %w", err)
	}
	return &pkg, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func isDocumentType(mediaType string) bool {
	switch strings.ToLower(strings.TrimSpace(mediaType)) {
	case "application/xhtml+xml", "text/html":
		return true
	}
	return false
}

func firstNonEmpty(values []string, fallback string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return fallback
}

// resolveRef joins href to the directory of the document that referenced
// it and normalizes the result to an archive path.
func resolveRef(baseDir, href string) string {
	href = strings.SplitN(href, "#", 2)[0]
	if href == "" {
		return ""
	}
	if unescaped, err := url.PathUnescape(href); err == nil {
		href = unescaped
	}
	href = strings.ReplaceAll(href, "\\", "/")
	if baseDir != "" && baseDir != "." && !strings.HasPrefix(href, "/") {
		href = baseDir + "/" + href
	}
	return strings.TrimPrefix(path.Clean(href), "/")
}

// resolveTitle picks the chapter title: TOC entry by full path, then by
// unique basename, then the document's own <title>, then the filename
// stem, then a positional fallback.
func resolveTitle(docPath string, tocMap, basenameMap map[string]string, htmlTitle string, index int) string {
	if title, ok := tocMap[docPath]; ok {
		return title
	}
	if title, ok := basenameMap[path.Base(docPath)]; ok {
		return title
	}
	if t := strings.TrimSpace(htmlTitle); t != "" {
		return t
	}
	if stem := strings.TrimSuffix(path.Base(docPath), path.Ext(docPath)); stem != "" {
		stem = strings.ReplaceAll(stem, "_", " ")
		stem = strings.ReplaceAll(stem, "-", " ")
		if s := strings.TrimSpace(stem); s != "" {
			return s
		}
	}
	return fmt.Sprintf("Chapter %d", index+1)
}
