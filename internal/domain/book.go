package domain

// Format identifies the archive format a document was parsed from.
type Format string

const (
	FormatEPUB Format = "epub"
	FormatMOBI Format = "mobi"
)

// BookMetadata holds document-level metadata returned by the parser.
type BookMetadata struct {
	Identifier string `json:"identifier"` // Metadata identifier (may be empty)
	Title      string `json:"title"`
	Author     string `json:"author"`
	Language   string `json:"language"`
	CoverPath  string `json:"coverPath"` // Archive-internal path of the cover image
	Format     Format `json:"format"`
}

// Section is one addressable, orderable unit of a document
// (roughly one chapter/file within the archive).
type Section struct {
	Index  int    `json:"index"`
	Path   string `json:"path"`   // Archive-internal path, used as the locator
	Anchor string `json:"anchor"` // Optional sub-section anchor id
}

// TocNode is one entry in the table-of-contents tree.
// Target is a locator into the spine, possibly carrying a "#anchor" suffix.
type TocNode struct {
	Title    string     `json:"title"`
	Target   string     `json:"target"`
	Children []*TocNode `json:"children,omitempty"`
}

// FlattenToc returns the tree in depth-first order.
func FlattenToc(nodes []*TocNode) []*TocNode {
	var flat []*TocNode
	for _, n := range nodes {
		flat = append(flat, n)
		flat = append(flat, FlattenToc(n.Children)...)
	}
	return flat
}

// StoredMetadata is the metadata record round-tripped through the
// persistent tier for the fast open path.
type StoredMetadata struct {
	Info         BookMetadata `json:"info"`
	Toc          []*TocNode   `json:"toc"`
	Spine        []Section    `json:"spine"`
	SectionCount int          `json:"sectionCount"`
}
