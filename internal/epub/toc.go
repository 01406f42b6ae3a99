package epub

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"os"
	"path"
	"strings"
)

type tocEntry struct {
	Title string
	Href  string
}

// tocMaps builds title lookups keyed by resolved archive path and, for
// entries whose basename is unique, by basename. EPUB 3 nav documents win
// over the EPUB 2 NCX when both are present and usable.
func (r *Reader) tocMaps(files map[string]*zip.File, pkg *opfPackage, manifest map[string]manifestItem, opfDir string) (map[string]string, map[string]string) {
	entries := r.navEntries(files, pkg, opfDir)
	if len(entries) == 0 {
		entries = r.ncxEntries(files, pkg, manifest, opfDir)
	}

	tocMap := make(map[string]string)
	basenameMap := make(map[string]string)
	basenameCounts := make(map[string]int)

	for _, entry := range entries {
		title := strings.TrimSpace(entry.Title)
		if title == "" || entry.Href == "" {
			continue
		}
		if _, ok := tocMap[entry.Href]; !ok {
			tocMap[entry.Href] = title
		}
		base := path.Base(entry.Href)
		if base == "" || base == "." {
			continue
		}
		basenameCounts[base]++
		if _, ok := basenameMap[base]; !ok {
			basenameMap[base] = title
		}
	}

	// A basename shared by several TOC entries is ambiguous.
	for base, count := range basenameCounts {
		if count > 1 {
			delete(basenameMap, base)
		}
	}
	return tocMap, basenameMap
}

func (r *Reader) navEntries(files map[string]*zip.File, pkg *opfPackage, opfDir string) []tocEntry {
	for _, item := range pkg.Manifest.Items {
		if !hasProperty(item.Properties, "nav") {
			continue
		}
		navPath := resolveRef(opfDir, item.Href)
		f, ok := files[navPath]
		if !ok {
			return nil
		}
		content, err := readZipFile(f)
		if err != nil {
			r.logger.Debug("nav document unreadable", "path", navPath, "err", err)
			return nil
		}
		links := extractNavLinks(content)
		entries := make([]tocEntry, 0, len(links))
		navDir := path.Dir(navPath)
		for _, link := range links {
			entries = append(entries, tocEntry{
				Title: link.Title,
				Href:  resolveRef(navDir, link.Href),
			})
		}
		return entries
	}
	return nil
}

type ncxDoc struct {
	NavPoints []ncxNavPoint `xml:"navMap>navPoint"`
}

type ncxNavPoint struct {
	Label   string `xml:"navLabel>text"`
	Content struct {
		Src string `xml:"src,attr"`
	} `xml:"content"`
	Children []ncxNavPoint `xml:"navPoint"`
}

func (r *Reader) ncxEntries(files map[string]*zip.File, pkg *opfPackage, manifest map[string]manifestItem, opfDir string) []tocEntry {
	ncxPath := r.findNCX(pkg, manifest, opfDir)
	if ncxPath == "" {
		return nil
	}
	f, ok := files[ncxPath]
	if !ok {
		return nil
	}
	content, err := readZipFile(f)
	if err != nil {
		r.logger.Debug("ncx unreadable", "path", ncxPath, "err", err)
		return nil
	}

	var doc ncxDoc
	if err := xml.Unmarshal(content, &doc); err != nil {
		r.logger.Debug("ncx parse failed", "path", ncxPath, "err", err)
		return nil
	}

	var entries []tocEntry
	ncxDir := path.Dir(ncxPath)
	var walk func(points []ncxNavPoint)
	walk = func(points []ncxNavPoint) {
		for _, p := range points {
			entries = append(entries, tocEntry{
				Title: p.Label,
				Href:  resolveRef(ncxDir, p.Content.Src),
			})
			walk(p.Children)
		}
	}
	walk(doc.NavPoints)
	return entries
}

func (r *Reader) findNCX(pkg *opfPackage, manifest map[string]manifestItem, opfDir string) string {
	if item, ok := manifest[pkg.Spine.Toc]; ok {
		return resolveRef(opfDir, item.Href)
	}
	for _, item := range pkg.Manifest.Items {
		if strings.EqualFold(item.MediaType, "application/x-dtbncx+xml") {
			return resolveRef(opfDir, item.Href)
		}
	}
	return ""
}

func hasProperty(properties, want string) bool {
	for _, p := range strings.Fields(properties) {
		if strings.EqualFold(p, want) {
			return true
		}
	}
	return false
}

// extractCover writes the cover image to a temp file owned by the caller.
// EPUB 3 cover-image properties are tried first, then the EPUB 2
// meta name="cover" manifest reference. Returns "" when there is none.
func (r *Reader) extractCover(files map[string]*zip.File, pkg *opfPackage, manifest map[string]manifestItem, opfDir string) (string, error) {
	item := findCoverItem(pkg, manifest)
	if item == nil {
		return "", nil
	}

	coverPath := resolveRef(opfDir, item.Href)
	f, ok := files[coverPath]
	if !ok {
		return "", fmt.Errorf("cover %s missing from archive", coverPath)
	}
	content, err := readZipFile(f)
	if err != nil {
		return "", err
	}
	if len(content) == 0 {
		return "", nil
	}

	tmp, err := os.CreateTemp("", "narro_cover_*"+coverExtension(item.MediaType))
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

func findCoverItem(pkg *opfPackage, manifest map[string]manifestItem) *manifestItem {
	for i := range pkg.Manifest.Items {
		if hasProperty(pkg.Manifest.Items[i].Properties, "cover-image") {
			return &pkg.Manifest.Items[i]
		}
	}
	for _, meta := range pkg.Metadata.Metas {
		if meta.Name != "cover" || meta.Content == "" {
			continue
		}
		if item, ok := manifest[meta.Content]; ok {
			return &item
		}
	}
	return nil
}

func coverExtension(mediaType string) string {
	switch strings.ToLower(strings.TrimSpace(mediaType)) {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
