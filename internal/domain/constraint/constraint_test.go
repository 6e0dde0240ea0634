package constraint

import (
	"reflect"
	"strings"
	"testing"
)

func intp(n int) *int { return &n }

func TestExtractCounts(t *testing.T) {
	tests := []struct {
		name       string
		in         string
		wantExact  *int
		wantTarget *int
	}{
		{"exact korean", "제목을 정확히 5개 만들어 주세요", intp(5), nil},
		{"exact spaced", "정확히10 개", intp(10), nil},
		{"exact english", "Write exactly 3 titles", intp(3), nil},
		{"bare count", "제목 7개를 제안", nil, intp(7)},
		{"bare english", "give me 4 items", nil, intp(4)},
		{"none", "좋은 제목을 지어줘", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Extract(tt.in)
			if !reflect.DeepEqual(s.ExactCount, tt.wantExact) {
				t.Errorf("ExactCount = %v, want %v", deref(s.ExactCount), deref(tt.wantExact))
			}
			if !reflect.DeepEqual(s.TargetCount, tt.wantTarget) {
				t.Errorf("TargetCount = %v, want %v", deref(s.TargetCount), deref(tt.wantTarget))
			}
		})
	}
}

func deref(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func TestExtractLengths(t *testing.T) {
	s := Extract("각 제목은 15-25자로 작성")
	if s.CharRange == nil || *s.CharRange != (Range{Min: 15, Max: 25}) {
		t.Fatalf("CharRange = %+v", s.CharRange)
	}
	if s.MaxChars != nil {
		t.Error("MaxChars must be absent when a range matched")
	}

	s = Extract("30자 이내로 요약")
	if s.CharRange != nil || s.MaxChars == nil || *s.MaxChars != 30 {
		t.Fatalf("expected MaxChars=30, got range=%+v max=%v", s.CharRange, deref(s.MaxChars))
	}

	s = Extract("between 25~10 characters")
	if s.CharRange == nil || s.CharRange.Min != 10 || s.CharRange.Max != 25 {
		t.Fatalf("expected swapped range, got %+v", s.CharRange)
	}
}

func TestExtractFormatPrecedence(t *testing.T) {
	tests := []struct {
		in   string
		want Format
	}{
		{"JSON 목록으로 출력", FormatJSON},
		{"xml 또는 테이블", FormatXML},
		{"번호를 붙인 리스트와 테이블", FormatList},
		{"테이블로 정리", FormatTable},
		{"그냥 써줘", ""},
	}
	for _, tt := range tests {
		if got := Extract(tt.in).Format; got != tt.want {
			t.Errorf("Extract(%q).Format = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExtractRequiredFieldsAndProhibitions(t *testing.T) {
	s := Extract(`"title"과 "summary"를 포함하고 "title"은 맨 앞에. 이모지 사용 금지`)
	want := []string{"title", "summary"}
	if !reflect.DeepEqual(s.RequiredFields, want) {
		t.Errorf("RequiredFields = %v, want %v", s.RequiredFields, want)
	}
	if !s.HasProhibitions {
		t.Error("expected prohibitions")
	}
	if !Extract("Do not use emoji").HasProhibitions {
		t.Error("expected english prohibition")
	}
	if Extract("아무 말").HasProhibitions {
		t.Error("unexpected prohibition")
	}
}

func TestExtractEmpty(t *testing.T) {
	if s := Extract(""); !s.Empty() {
		t.Errorf("expected empty set, got %+v", s)
	}
}

func TestValidateExactCount(t *testing.T) {
	s := Set{ExactCount: intp(5)}
	r := Validate("하나\n\n둘\n셋\n넷\n", s)
	if r.Valid {
		t.Fatal("expected invalid")
	}
	if len(r.Errors) != 1 || !strings.Contains(r.Errors[0], "5") || !strings.Contains(r.Errors[0], "4") {
		t.Errorf("error should mention expected and actual: %v", r.Errors)
	}

	r = Validate("1\n2\n3\n4\n5", s)
	if !r.Valid {
		t.Errorf("expected valid, got %v", r.Errors)
	}
}

func TestValidateCharRange(t *testing.T) {
	s := Set{CharRange: &Range{Min: 3, Max: 5}}
	r := Validate("1. 가나다\n- 가\n\n제목: 가나다라마바", s)
	if r.Valid {
		t.Fatal("expected invalid")
	}
	if len(r.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %v", r.Errors)
	}
	if !strings.HasPrefix(r.Errors[0], "2번째") || !strings.HasPrefix(r.Errors[1], "3번째") {
		t.Errorf("errors should be 1-indexed over non-blank lines: %v", r.Errors)
	}
}

func TestValidateJSONAndFields(t *testing.T) {
	s := Set{Format: FormatJSON, RequiredFields: []string{"title", "tags"}}
	r := Validate(`{"title": "x"`, s)
	if r.Valid || len(r.Errors) != 2 {
		t.Fatalf("expected json and missing field errors, got %v", r.Errors)
	}
	if !strings.Contains(r.Errors[0], "JSON") {
		t.Errorf("json error must come first: %v", r.Errors)
	}
	if !strings.Contains(r.Errors[1], "tags") {
		t.Errorf("expected missing tags: %v", r.Errors)
	}

	r = Validate(`{"title": "x", "tags": []}`, s)
	if !r.Valid {
		t.Errorf("expected valid, got %v", r.Errors)
	}
}

func TestValidateEmptySet(t *testing.T) {
	if r := Validate("anything", Set{}); !r.Valid {
		t.Errorf("empty set must pass: %v", r.Errors)
	}
}

func TestRetryMessage(t *testing.T) {
	r := Result{Errors: []string{"a", "b"}}
	got := RetryMessage("안녕", r)
	if !strings.HasPrefix(got, "안녕\n\n[오류 수정 요청]") || !strings.Contains(got, "a / b") {
		t.Errorf("unexpected retry message: %q", got)
	}
}
