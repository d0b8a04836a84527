// Package epub parses EPUB archives into domain.Document values: the OCF
// container is a zip holding an OPF package (metadata, manifest, spine) and
// an NCX or nav table of contents.
package epub

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/mmcdole/folio/internal/domain"
)

// Engine implements domain.Engine for EPUB archives.
type Engine struct{}

// New creates the EPUB engine.
func New() *Engine { return &Engine{} }

func (e *Engine) Format() domain.Format { return domain.FormatEPUB }

func (e *Engine) CanOpen(p string) bool {
	return strings.EqualFold(path.Ext(p), ".epub")
}

// Open parses the container, package document and TOC. Section content is
// read lazily from the zip.
func (e *Engine) Open(ctx context.Context, p string) (domain.Document, error) {
	rc, err := zip.OpenReader(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidDocument, err)
	}
	doc, err := build(ctx, &rc.Reader, rc)
	if err != nil {
		rc.Close()
		return nil, err
	}
	return doc, nil
}

// container.xml structure
type ocfContainer struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

// OPF package document structure
type opfPackage struct {
	Metadata struct {
		Title      string `xml:"title"`
		Creator    string `xml:"creator"`
		Identifier string `xml:"identifier"`
		Language   string `xml:"language"`
	} `xml:"metadata"`
	Manifest struct {
		Items []opfItem `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		TocID    string `xml:"toc,attr"`
		ItemRefs []struct {
			IDRef string `xml:"idref,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

type opfItem struct {
	ID         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr"`
}

// NCX structure
type ncxDoc struct {
	NavMap struct {
		Points []ncxPoint `xml:"navPoint"`
	} `xml:"navMap"`
}

type ncxPoint struct {
	Label struct {
		Text string `xml:"text"`
	} `xml:"navLabel"`
	Content struct {
		Src string `xml:"src,attr"`
	} `xml:"content"`
	Children []ncxPoint `xml:"navPoint"`
}

// document implements domain.Document over an open zip.
type document struct {
	meta  domain.BookMetadata
	toc   []*domain.TocNode
	spine []domain.Section
	files map[string]*zip.File
	mimes map[string]string // Archive path -> manifest media-type
	root  string            // Directory of the OPF, base for manifest hrefs
	rc    io.Closer
}

func build(ctx context.Context, zr *zip.Reader, closer io.Closer) (*document, error) {
	d := &document{
		files: make(map[string]*zip.File),
		mimes: make(map[string]string),
		rc:    closer,
	}
	for _, f := range zr.File {
		d.files[f.Name] = f
	}

	var container ocfContainer
	if err := d.readXML("META-INF/container.xml", &container); err != nil {
		return nil, fmt.Errorf("%w: missing container.xml", domain.ErrInvalidDocument)
	}
	if len(container.Rootfiles) == 0 {
		return nil, fmt.Errorf("%w: no rootfile", domain.ErrInvalidDocument)
	}
	opfPath := container.Rootfiles[0].FullPath
	d.root = path.Dir(opfPath)
	if d.root == "." {
		d.root = ""
	}

	var pkg opfPackage
	if err := d.readXML(opfPath, &pkg); err != nil {
		return nil, fmt.Errorf("%w: unreadable package document", domain.ErrInvalidDocument)
	}

	d.meta = domain.BookMetadata{
		Identifier: strings.TrimSpace(pkg.Metadata.Identifier),
		Title:      strings.TrimSpace(pkg.Metadata.Title),
		Author:     strings.TrimSpace(pkg.Metadata.Creator),
		Language:   strings.TrimSpace(pkg.Metadata.Language),
		Format:     domain.FormatEPUB,
	}

	itemsByID := make(map[string]opfItem, len(pkg.Manifest.Items))
	for _, item := range pkg.Manifest.Items {
		itemsByID[item.ID] = item
		full := d.resolve(item.Href)
		d.mimes[full] = item.MediaType
		if strings.Contains(item.Properties, "cover-image") {
			d.meta.CoverPath = full
		}
	}

	for _, ref := range pkg.Spine.ItemRefs {
		item, ok := itemsByID[ref.IDRef]
		if !ok {
			continue
		}
		full := d.resolve(item.Href)
		base, anchor, _ := strings.Cut(full, "#")
		d.spine = append(d.spine, domain.Section{
			Index:  len(d.spine),
			Path:   base,
			Anchor: anchor,
		})
	}
	if len(d.spine) == 0 {
		return nil, fmt.Errorf("%w: empty spine", domain.ErrInvalidDocument)
	}

	// TOC is best effort: a book without one is still readable.
	if tocItem, ok := itemsByID[pkg.Spine.TocID]; ok {
		var ncx ncxDoc
		if err := d.readXML(d.resolve(tocItem.Href), &ncx); err == nil {
			d.toc = convertNcx(ncx.NavMap.Points, d, tocItem.Href)
		}
	}

	return d, nil
}

func convertNcx(points []ncxPoint, d *document, ncxHref string) []*domain.TocNode {
	nodes := make([]*domain.TocNode, 0, len(points))
	for _, pt := range points {
		node := &domain.TocNode{
			Title:    strings.TrimSpace(pt.Label.Text),
			Target:   d.resolveFrom(path.Dir(d.resolve(ncxHref)), pt.Content.Src),
			Children: convertNcx(pt.Children, d, ncxHref),
		}
		nodes = append(nodes, node)
	}
	return nodes
}

func (d *document) resolve(href string) string {
	return d.resolveFrom(d.root, href)
}

func (d *document) resolveFrom(dir, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	base, anchor, hasAnchor := strings.Cut(href, "#")
	joined := path.Clean(path.Join(dir, base))
	if hasAnchor {
		return joined + "#" + anchor
	}
	return joined
}

func (d *document) readXML(name string, dest interface{}) error {
	data, err := d.readFile(name)
	if err != nil {
		return err
	}
	return xml.Unmarshal(data, dest)
}

func (d *document) readFile(name string) ([]byte, error) {
	f, ok := d.files[name]
	if !ok {
		return nil, domain.ErrNotFound
	}
	r, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (d *document) Metadata() domain.BookMetadata { return d.meta }
func (d *document) Toc() []*domain.TocNode        { return d.toc }
func (d *document) Spine() []domain.Section       { return d.spine }
func (d *document) SectionCount() int             { return len(d.spine) }

func (d *document) RawSection(ctx context.Context, index int) (string, []string, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	if index < 0 || index >= len(d.spine) {
		return "", nil, domain.ErrNotFound
	}
	data, err := d.readFile(d.spine[index].Path)
	if err != nil {
		return "", nil, err
	}
	markup := string(data)

	// Linked stylesheets ship alongside the markup so the snapshot is
	// self-contained.
	var styles []string
	for _, href := range extractStyleRefs(markup) {
		css, err := d.readFile(d.ResolvePath(index, href))
		if err != nil {
			continue
		}
		styles = append(styles, string(css))
	}
	return markup, styles, nil
}

// extractStyleRefs pulls href values out of <link rel="stylesheet"> tags.
func extractStyleRefs(markup string) []string {
	var refs []string
	rest := markup
	for {
		start := strings.Index(rest, "<link")
		if start < 0 {
			return refs
		}
		end := strings.Index(rest[start:], ">")
		if end < 0 {
			return refs
		}
		tag := rest[start : start+end+1]
		rest = rest[start+end+1:]
		if !strings.Contains(tag, "stylesheet") {
			continue
		}
		if href := attrValue(tag, "href"); href != "" {
			refs = append(refs, href)
		}
	}
}

// attrValue extracts a double- or single-quoted attribute value from a tag.
func attrValue(tag, name string) string {
	for _, quote := range []string{`"`, `'`} {
		marker := name + "=" + quote
		i := strings.Index(tag, marker)
		if i < 0 {
			continue
		}
		rest := tag[i+len(marker):]
		if j := strings.Index(rest, quote); j >= 0 {
			return rest[:j]
		}
	}
	return ""
}

func (d *document) ResolvePath(sectionIndex int, ref string) string {
	if sectionIndex < 0 || sectionIndex >= len(d.spine) {
		return ref
	}
	return d.resolveFrom(path.Dir(d.spine[sectionIndex].Path), ref)
}

func (d *document) ReadResource(ctx context.Context, p string) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	data, err := d.readFile(p)
	if err != nil {
		return nil, "", err
	}
	mimeType := d.mimes[p]
	if mimeType == "" {
		mimeType = mime.TypeByExtension(path.Ext(p))
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return data, mimeType, nil
}

func (d *document) Close() error {
	if d.rc != nil {
		return d.rc.Close()
	}
	return nil
}
