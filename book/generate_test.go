package book

import (
	"testing"
)

func TestSanitizeID(t *testing.T) {
	tests := map[string]string{
		"chapter_1_1.xhtml":  "chapter_1_1.xhtml",
		"images/image_1.png": "images_image_1.png",
		"styles/my file.css": "styles_my_file.css",
		"1st.css":            "id_1st.css",
		".hidden":            "id_.hidden",
	}
	for in, want := range tests {
		if got := sanitizeID(in); got != want {
			t.Errorf("sanitizeID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestManifestIDs(t *testing.T) {
	paths := []string{"a/b.css", "a_b.css", "cover.xhtml", "images/cover.png", "nav"}
	ids := manifestIDs(paths, "images/cover.png", "cover.xhtml")

	if ids["images/cover.png"] != "cover-image" || ids["cover.xhtml"] != "cover-page" {
		t.Errorf("cover ids = %q, %q", ids["images/cover.png"], ids["cover.xhtml"])
	}
	seen := map[string]bool{"nav": true, "ncx": true}
	for _, p := range paths {
		id := ids[p]
		if id == "" {
			t.Errorf("no id for %s", p)
		}
		if seen[id] {
			t.Errorf("id %q is not unique", id)
		}
		seen[id] = true
	}
}

func hazardSnapshot() *snapshot {
	s := &snapshot{
		id:           "id",
		meta:         Metadata{Language: "en"},
		placeholders: Placeholders{Title: "Untitled", Author: "Unknown author"},
		modified:     testTime,
		data: map[string][]byte{
			"volume_1.xhtml":    nil,
			"chapter_2_1.xhtml": nil,
		},
	}
	s.paths = []string{"chapter_2_1.xhtml", "volume_1.xhtml"}
	s.volumes = []volumeView{
		{Volume: Volume{Index: 1, Title: "Has page", Filename: "volume_1.xhtml"}},
		{Volume: Volume{Index: 2, Title: "Chapters only", Filename: "volume_2.xhtml"},
			chapters: []Chapter{{Index: 1, Title: "One", Filename: "chapter_2_1.xhtml"}}},
		{Volume: Volume{Index: 3, Title: "Nothing", Filename: "volume_3.xhtml"}},
	}
	s.ids = manifestIDs(s.paths, "", "")
	return s
}

func TestVolumeTarget(t *testing.T) {
	s := hazardSnapshot()
	want := []string{"volume_1.xhtml", "chapter_2_1.xhtml", ""}
	for i := range s.volumes {
		if got := s.volumeTarget(&s.volumes[i]); got != want[i] {
			t.Errorf("volumeTarget(%s) = %q, want %q", s.volumes[i].Title, got, want[i])
		}
	}
}

func TestNavigationMap_Hazard(t *testing.T) {
	s := hazardSnapshot()
	doc, events := navigationMap(s)

	if len(events) != 1 || events[0].Kind != EventNavigationHazard || events[0].Path != "volume_3.xhtml" {
		t.Fatalf("events = %+v", events)
	}

	points := doc.FindElements("//navMap/navPoint")
	if len(points) != 3 {
		t.Fatalf("got %d top level points", len(points))
	}
	if points[2].FindElement("content") != nil {
		t.Error("volume without target has content element")
	}
	if c := points[1].FindElement("content"); c == nil || c.SelectAttrValue("src", "") != "chapter_2_1.xhtml" {
		t.Error("volume without page does not point to its first chapter")
	}
	nested := points[1].FindElements("navPoint")
	if len(nested) != 1 || nested[0].SelectAttrValue("playOrder", "") != "3" {
		t.Errorf("nested chapter points = %v", nested)
	}
	if d := doc.FindElement("//head/meta[@name='dtb:depth']"); d == nil || d.SelectAttrValue("content", "") != "2" {
		t.Error("depth is not 2")
	}
}

func TestNavigationDocument_Span(t *testing.T) {
	doc := navigationDocument(hazardSnapshot())

	spans := doc.FindElements("//nav[@id='toc']//span")
	if len(spans) != 1 || spans[0].Text() != "Nothing" {
		t.Errorf("spans = %v", spans)
	}
	links := doc.FindElements("//nav[@id='toc']//a")
	var hrefs []string
	for _, a := range links {
		hrefs = append(hrefs, a.SelectAttrValue("href", ""))
	}
	if len(hrefs) != 3 || hrefs[0] != "volume_1.xhtml" || hrefs[1] != "chapter_2_1.xhtml" || hrefs[2] != "chapter_2_1.xhtml" {
		t.Errorf("hrefs = %v", hrefs)
	}
}

func TestPackageDocument_Placeholders(t *testing.T) {
	s := hazardSnapshot()
	doc := packageDocument(s)

	if e := doc.FindElement("//dc:title"); e == nil || e.Text() != "Untitled" {
		t.Error("title placeholder not used")
	}
	if e := doc.FindElement("//dc:creator"); e == nil || e.Text() != "Unknown author" {
		t.Error("author placeholder not used")
	}
	if e := doc.FindElement("//dc:description"); e != nil {
		t.Error("empty description written")
	}
	if e := doc.FindElement("//meta[@property='dcterms:modified']"); e == nil || e.Text() != "2024-05-17T10:30:00Z" {
		t.Error("modification time is wrong")
	}
	refs := doc.FindElements("//spine/itemref")
	if len(refs) != 1 || refs[0].SelectAttrValue("idref", "") != s.ids["chapter_2_1.xhtml"] {
		t.Errorf("spine = %v", refs)
	}
}
