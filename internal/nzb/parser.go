// Package nzb parses the NZB XML dialect into the sampled probe set C5
// drives across providers. Grounded on the original script's fix_nzb /
// get_nzb_data, reworked into a streaming encoding/xml decode with named
// records instead of positional tuples (spec.md §9).
package nzb

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"html"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/kloaknet/completion-prober/internal/models"
)

// Status classifies the outcome of parsing a release descriptor.
type Status int

const (
	// Probes indicates the descriptor parsed cleanly and produced a
	// non-empty sample set.
	Probes Status = iota
	// NoSuchFile indicates the descriptor path does not exist.
	NoSuchFile
	// Invalid indicates the descriptor has no group or no article IDs.
	Invalid
	// NoRarArticles indicates the release contains no non-par files.
	NoRarArticles
)

// Result is the structured outcome of Parse.
type Result struct {
	Status      Status
	Sample      models.Sample
	Fingerprint string // sha1 of the sampled message-IDs, for probecache
}

type rawFile struct {
	Subject string
	IsPar   bool
	Groups  []string
}

type rawArticle struct {
	file      *rawFile
	messageID string
}

// xmlNZB mirrors only the elements we need from the standard NZB dialect:
//
//	<nzb><file subject="..."><groups><group>..</group></groups>
//	  <segments><segment bytes="...">msgid</segment></segments>
//	</file></nzb>
type xmlNZB struct {
	XMLName xml.Name  `xml:"nzb"`
	Files   []xmlFile `xml:"file"`
}

type xmlFile struct {
	Subject string `xml:"subject,attr"`
	Groups  struct {
		Group []string `xml:"group"`
	} `xml:"groups"`
	Segments struct {
		Segment []xmlSegment `xml:"segment"`
	} `xml:"segments"`
}

type xmlSegment struct {
	MessageID string `xml:",chardata"`
}

// ParseFile loads and parses a release descriptor from disk, applies the
// sampling policy, and returns the probe set.
func ParseFile(path string, checkLimitPercent, maxArticles, minArticles int, fullCheckNoPars bool) Result {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{Status: NoSuchFile}
	}
	return Parse(data, checkLimitPercent, maxArticles, minArticles, fullCheckNoPars)
}

// Parse applies fix-up (single-line re-split), decode, classification and
// sampling to raw NZB bytes.
func Parse(data []byte, checkLimitPercent, maxArticles, minArticles int, fullCheckNoPars bool) Result {
	data = fixSingleLine(data)

	var doc xmlNZB
	if err := xml.Unmarshal(data, &doc); err != nil {
		return Result{Status: Invalid}
	}

	var allArticles []rawArticle
	var firstGroup string
	for fi := range doc.Files {
		f := &doc.Files[fi]
		groups := f.Groups.Group
		if len(groups) > 0 && firstGroup == "" {
			firstGroup = groups[0]
		}
		subject := decodeSubject(f.Subject)
		isPar := strings.Contains(strings.ToLower(subject), ".par2")
		rf := &rawFile{Subject: subject, IsPar: isPar, Groups: groups}
		for _, seg := range f.Segments.Segment {
			id := html.UnescapeString(strings.TrimSpace(seg.MessageID))
			if id == "" {
				continue
			}
			allArticles = append(allArticles, rawArticle{file: rf, messageID: id})
		}
	}

	if firstGroup == "" {
		return Result{Status: Invalid}
	}
	if len(allArticles) == 0 {
		return Result{Status: Invalid}
	}

	var nonPar []rawArticle
	parCount := 0
	for _, a := range allArticles {
		if a.file.IsPar {
			parCount++
		} else {
			nonPar = append(nonPar, a)
		}
	}
	if len(nonPar) == 0 {
		return Result{Status: NoRarArticles}
	}

	stride := sampleStride(len(nonPar), parCount, checkLimitPercent, maxArticles, minArticles, fullCheckNoPars)

	sample := models.Sample{TotalNonPar: len(nonPar)}
	h := sha1.New()
	for i := 0; i < len(nonPar); i += stride {
		a := nonPar[i]
		sample.Articles = append(sample.Articles, models.Article{
			Subject:         a.file.Subject,
			IsPar:           false,
			Groups:          a.file.Groups,
			MessageID:       a.messageID,
			FoundOnProvider: models.Unconfirmed,
		})
		h.Write([]byte(a.messageID))
	}

	return Result{
		Status:      Probes,
		Sample:      sample,
		Fingerprint: hex.EncodeToString(h.Sum(nil)),
	}
}

// sampleStride implements §4.1's sampling policy.
func sampleStride(nonParCount, parCount, checkLimitPercent, maxArticles, minArticles int, fullCheckNoPars bool) int {
	if fullCheckNoPars && parCount <= 1 {
		return 1
	}
	if checkLimitPercent <= 0 {
		checkLimitPercent = 10
	}
	stride := 100 / checkLimitPercent
	if stride <= 0 {
		stride = 1
	}
	if maxArticles > 0 && nonParCount/stride > maxArticles {
		stride = nonParCount / maxArticles
	}
	if minArticles > 0 && nonParCount/stride < minArticles {
		stride = nonParCount / minArticles
		if stride < 1 {
			stride = 1
		}
	}
	if stride < 1 {
		stride = 1
	}
	return stride
}

// decodeSubject repairs a <file subject=...> attribute that a strict-ASCII
// XML decoder has left as mis-decoded Latin-1: some older posting tools
// write subjects in windows-1252/ISO-8859-1 without declaring it. Grounded
// on the teacher's decodeCharsetToUTF8 fallback path (internal/models/sanitizing.go
// in the retrieved tree), scaled down to the one fallback that actually
// matters here since NZB subjects carry no charset attribute to consult.
func decodeSubject(subject string) string {
	if utf8.ValidString(subject) {
		return subject
	}
	decoder := charmap.ISO8859_1.NewDecoder()
	if fixed, _, err := transform.String(decoder, subject); err == nil {
		return fixed
	}
	return strings.ToValidUTF8(subject, "�")
}

// fixSingleLine re-splits an NZB document that arrived on a single line, on
// the "><" tag boundary, matching the original script's fix_nzb.
func fixSingleLine(data []byte) []byte {
	if bytes.Count(data, []byte("\n")) > 1 {
		return data
	}
	if !bytes.Contains(data, []byte("><")) {
		return data
	}
	parts := bytes.Split(data, []byte("><"))
	var buf bytes.Buffer
	for i, p := range parts {
		if i > 0 {
			buf.WriteByte('<')
		}
		buf.Write(p)
		if i < len(parts)-1 {
			buf.WriteByte('>')
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func (r Result) String() string {
	switch r.Status {
	case NoSuchFile:
		return "no such nzb file"
	case Invalid:
		return "invalid nzb (no group or no article ids)"
	case NoRarArticles:
		return "nzb contains no non-par articles"
	default:
		return fmt.Sprintf("%d articles sampled", r.Sample.Len())
	}
}
