package catalog

import (
	"bufio"
	"encoding/xml"
	"io"
	"strconv"
	"strings"

	"github.com/hpungsan/logsort/internal/config"
	"github.com/hpungsan/logsort/internal/errors"
)

// LogNameSegment is the zero-based index of the file name within an XML Log
// path ("owner/repo/attempt/name.log").
const LogNameSegment = 3

// ExtractLogName returns the log file name carried by an XML Log path.
func ExtractLogName(path string) (string, error) {
	segments := strings.Split(path, "/")
	if len(segments) <= LogNameSegment || segments[LogNameSegment] == "" {
		return "", errors.NewMalformedReference(path, len(segments), LogNameSegment+1)
	}
	return segments[LogNameSegment], nil
}

// ParseCategoryID parses Category text, falling back to SentinelID.
func ParseCategoryID(text string) int {
	id, err := strconv.Atoi(text)
	if err != nil {
		return SentinelID
	}
	return id
}

// ParseXML parses one XML catalog document.
func ParseXML(r io.Reader, name string, opts Options) (*Catalog, error) {
	c := New(config.ModeXML)
	if err := c.addXML(r, name, opts); err != nil {
		return nil, err
	}
	return c, nil
}

type xmlExample struct {
	Log      *string `xml:"Log"`
	Keywords *string `xml:"Keywords"`
	Category *string `xml:"Category"`
	Chunk    *string `xml:"Chunk"`
}

func (e xmlExample) missing() string {
	var names []string
	if e.Log == nil {
		names = append(names, "Log")
	}
	if e.Keywords == nil {
		names = append(names, "Keywords")
	}
	if e.Category == nil {
		names = append(names, "Category")
	}
	if e.Chunk == nil {
		names = append(names, "Chunk")
	}
	return strings.Join(names, ",")
}

// addXML streams Example elements wherever they appear in the document.
// XML mode has no hard cap. Like JSON documents, nothing is assigned unless
// the whole document decodes.
func (c *Catalog) addXML(r io.Reader, name string, _ Options) error {
	dec := xml.NewDecoder(bufio.NewReader(r))

	var examples []xmlExample
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.NewCatalogParse(name, err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "Example" {
			continue
		}
		var ex xmlExample
		if err := dec.DecodeElement(&ex, &start); err != nil {
			return errors.NewCatalogParse(name, err)
		}
		examples = append(examples, ex)
	}
	c.Documents++

	for i, ex := range examples {
		item := "Example[" + strconv.Itoa(i) + "]"
		if m := ex.missing(); m != "" {
			c.skip(Skip{Document: name, Item: item, Reason: ReasonMissingElement, Detail: m})
			continue
		}
		logName, err := ExtractLogName(*ex.Log)
		if err != nil {
			c.skip(Skip{Document: name, Item: *ex.Log, Reason: ReasonMalformedReference, Detail: err.Error()})
			continue
		}

		id := ParseCategoryID(*ex.Category)
		cat := c.category(strconv.Itoa(id), id)
		cat.Refs = append(cat.Refs, Ref{
			LogName:    logName,
			Keywords:   *ex.Keywords,
			CategoryID: id,
			Chunk:      *ex.Chunk,
			Document:   name,
		})
		cat.Admitted++
	}
	return nil
}
