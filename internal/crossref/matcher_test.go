package crossref

import "testing"

func TestMatchAuthor_ORCIDSubstring(t *testing.T) {
	work := &Work{Authors: []Author{
		{Given: "Someone", Family: "Else", ORCID: "http://orcid.org/0000-0002-1825-0097"},
	}}

	// 氏名が一致しなくてもORCIDで一致すれば成功する
	if !MatchAuthor(work, AuthorProfile{Name: "Jane Smith", ORCID: "0000-0002-1825-0097"}) {
		t.Error("ORCID contained in author ORCID URI should match")
	}
	if MatchAuthor(work, AuthorProfile{ORCID: "0000-0001-0000-0000"}) {
		t.Error("different ORCID should not match")
	}
}

func TestMatchAuthor_NameBothOrderings(t *testing.T) {
	tests := []struct {
		name   string
		author Author
		want   bool
	}{
		{"given family", Author{Given: "Jane", Family: "Smith"}, true},
		{"reversed", Author{Given: "Smith", Family: "Jane"}, true},
		{"different given", Author{Given: "John", Family: "Smith"}, false},
		{"middle name", Author{Given: "Jane A.", Family: "Smith"}, true},
		{"case insensitive", Author{Given: "JANE", Family: "SMITH"}, true},
		{"missing family", Author{Given: "Jane Smith"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			work := &Work{Authors: []Author{tt.author}}
			if got := MatchAuthor(work, AuthorProfile{Name: "Jane Smith"}); got != tt.want {
				t.Errorf("MatchAuthor() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchAuthor_AnyAuthor(t *testing.T) {
	work := &Work{Authors: []Author{
		{Given: "John", Family: "Doe"},
		{Given: "Jane", Family: "Smith"},
	}}
	if !MatchAuthor(work, AuthorProfile{Name: "jane smith"}) {
		t.Error("second author should match")
	}
}

func TestMatchAuthor_NoAuthorsOrNoProfile(t *testing.T) {
	if MatchAuthor(&Work{}, AuthorProfile{Name: "Jane Smith", ORCID: "0000-0002-1825-0097"}) {
		t.Error("work without authors should not match")
	}
	if MatchAuthor(nil, AuthorProfile{Name: "Jane Smith"}) {
		t.Error("nil work should not match")
	}
	work := &Work{Authors: []Author{{Given: "Jane", Family: "Smith"}}}
	if MatchAuthor(work, AuthorProfile{}) {
		t.Error("empty profile should not match")
	}
	if MatchAuthor(work, AuthorProfile{Name: "   "}) {
		t.Error("blank name should not match")
	}
}

func TestMatchAuthor_FallsBackToNameWhenORCIDMisses(t *testing.T) {
	work := &Work{Authors: []Author{{Given: "Jane", Family: "Smith"}}}
	if !MatchAuthor(work, AuthorProfile{Name: "Jane Smith", ORCID: "0000-0002-1825-0097"}) {
		t.Error("name should be checked when no author ORCID matches")
	}
}
