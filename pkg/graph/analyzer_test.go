package graph

import (
	"strings"
	"testing"

	"github.com/prsnl/kgraph/pkg/common"
)

func names(cands []Candidate, typ common.EntityType) []string {
	var out []string
	for _, c := range cands {
		if c.Type == typ {
			out = append(out, c.Name)
		}
	}
	return out
}

func TestAnalyzerForSelectsEntityTypes(t *testing.T) {
	tests := []struct {
		ct   ContentType
		want []common.EntityType
	}{
		{ContentConversation, []common.EntityType{common.EntityConversationTurn, common.EntityText, common.EntityKnowledgeConcept}},
		{ContentVideo, []common.EntityType{common.EntityVideoSegment, common.EntityAudio, common.EntityKnowledgeConcept}},
		{ContentGithubRepo, []common.EntityType{common.EntityCodeFunction, common.EntityCodeClass, common.EntityCodeModule}},
		{ContentTimeline, []common.EntityType{common.EntityTimelineEvent, common.EntityKnowledgeConcept}},
		{"podcast", []common.EntityType{common.EntityText, common.EntityKnowledgeConcept}},
	}
	for _, tt := range tests {
		t.Run(string(tt.ct), func(t *testing.T) {
			got := AnalyzerFor(tt.ct).EntityTypes()
			if len(got) != len(tt.want) {
				t.Fatalf("EntityTypes() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("EntityTypes() = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestCodeAnalyzerDetectsDeclarations(t *testing.T) {
	src := "package list\n\ntype Renderer struct{}\n\nfunc (r *Renderer) renderList(items []string) {}\n\ndef parse(x):\n    pass\n\nclass Widget:\n    pass\n"
	cands := AnalyzerFor(ContentCode).Detect(src)

	funcs := names(cands, common.EntityCodeFunction)
	if len(funcs) != 2 || funcs[0] != "renderList" || funcs[1] != "parse" {
		t.Fatalf("functions = %v", funcs)
	}
	classes := names(cands, common.EntityCodeClass)
	if len(classes) != 2 {
		t.Fatalf("classes = %v", classes)
	}
	for _, c := range cands {
		if c.Type == common.EntityCodeFunction && c.Name == "renderList" {
			if c.Confidence != 0.9 || c.Start == nil || *c.Start != 5 {
				t.Fatalf("unexpected candidate: %+v", c)
			}
			if c.Metadata.Code == nil || c.Metadata.Code.Kind != "function" {
				t.Fatalf("missing code metadata: %+v", c.Metadata)
			}
		}
	}
}

func TestDetectConcepts(t *testing.T) {
	cands := detectConcepts("We use React for the frontend and talk about marketing strategy.")
	got := names(cands, common.EntityKnowledgeConcept)
	want := []string{"Web Development", "Business"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("concepts = %v, want %v", got, want)
	}
	for _, c := range cands {
		if c.Confidence != 0.6 || c.Metadata.Concept == nil {
			t.Fatalf("unexpected concept: %+v", c)
		}
	}
	if len(detectConcepts("nothing to see")) != 0 {
		t.Fatalf("expected no concepts")
	}
}

func TestConversationAnalyzerTurns(t *testing.T) {
	text := "User: how do transitions work?\nAssistant: useTransition marks updates as non-urgent."
	turns := names(AnalyzerFor(ContentConversation).Detect(text), common.EntityConversationTurn)
	if len(turns) != 2 || turns[0] != "Turn 1 (user)" || turns[1] != "Turn 2 (assistant)" {
		t.Fatalf("turns = %v", turns)
	}
	single := names(AnalyzerFor(ContentConversation).Detect("User: hi"), common.EntityConversationTurn)
	if len(single) != 0 {
		t.Fatalf("single message must not be split: %v", single)
	}
}

func TestVideoAnalyzerSegments(t *testing.T) {
	text := "[00:15] Intro to hooks\n[1:02:03] Wrap up"
	var segs []Candidate
	for _, c := range AnalyzerFor(ContentVideo).Detect(text) {
		if c.Type == common.EntityVideoSegment {
			segs = append(segs, c)
		}
	}
	if len(segs) != 2 {
		t.Fatalf("segments = %+v", segs)
	}
	if *segs[0].Start != 15 || *segs[1].Start != 3723 {
		t.Fatalf("positions = %v, %v", *segs[0].Start, *segs[1].Start)
	}
	if segs[0].Metadata.Media == nil || segs[0].Metadata.Media.Timestamp != "00:15" {
		t.Fatalf("missing media metadata: %+v", segs[0].Metadata)
	}
}

func TestTimelineAnalyzerEvents(t *testing.T) {
	text := "2024-03-01 - Started the project\n2024-04-15: First release"
	events := names(AnalyzerFor(ContentTimeline).Detect(text), common.EntityTimelineEvent)
	if len(events) != 2 || !strings.HasPrefix(events[1], "2024-04-15 First release") {
		t.Fatalf("events = %v", events)
	}
}

func TestArticleAnalyzerPrepare(t *testing.T) {
	plain := "  Just a note.  "
	if got := AnalyzerFor(ContentArticle).Prepare(plain); got != "Just a note." {
		t.Fatalf("plain text changed: %q", got)
	}

	para := strings.Repeat("Knowledge graphs connect entities through typed relationships, and readers follow them to learn. ", 8)
	html := "<html><head><title>Graphs</title></head><body><nav>Home | About</nav><article><h1>Graphs</h1><p>" +
		para + "</p><p>" + para + "</p><p>" + para + "</p></article></body></html>"
	got := AnalyzerFor(ContentArticle).Prepare(html)
	if strings.Contains(got, "<p>") || !strings.Contains(got, "Knowledge graphs connect entities") {
		t.Fatalf("article text not extracted: %q", got)
	}
}
