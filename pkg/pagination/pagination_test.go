package pagination

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/labstack/echo/v4"
)

func newContext(target string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestFromContext_Defaults(t *testing.T) {
	p := FromContext(newContext("/invoices"))
	if p.Limit != DefaultLimit {
		t.Errorf("expected limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected offset 0, got %d", p.Offset)
	}
}

func TestFromContext_CustomValues(t *testing.T) {
	p := FromContext(newContext("/invoices?limit=50&offset=10"))
	if p.Limit != 50 || p.Offset != 10 {
		t.Errorf("expected 50/10, got %d/%d", p.Limit, p.Offset)
	}
}

func TestFromContext_MaxLimit(t *testing.T) {
	p := FromContext(newContext("/invoices?limit=500"))
	if p.Limit != MaxLimit {
		t.Errorf("expected limit capped at %d, got %d", MaxLimit, p.Limit)
	}
}

func TestFromContext_NegativeOffset(t *testing.T) {
	p := FromContext(newContext("/invoices?offset=-5"))
	if p.Offset != 0 {
		t.Errorf("expected offset 0, got %d", p.Offset)
	}
}

func TestNewResponse(t *testing.T) {
	resp := NewResponse([]string{"a", "b"}, 50, 20, 0)
	if resp.Total != 50 || !resp.HasMore {
		t.Errorf("unexpected response %+v", resp)
	}

	last := NewResponse([]string{"a"}, 41, 20, 40)
	if last.HasMore {
		t.Error("expected no more results on last page")
	}
}

func TestParams_Offsets(t *testing.T) {
	p := Params{Limit: 20, Offset: 10}
	if p.NextOffset() != 30 {
		t.Errorf("expected next offset 30, got %d", p.NextOffset())
	}
	if p.PreviousOffset() != 0 {
		t.Errorf("expected previous offset clamped to 0, got %d", p.PreviousOffset())
	}
	if !p.HasPrevious() {
		t.Error("expected previous page")
	}
	if p.HasNext(30) {
		t.Error("expected no next page when total is 30")
	}
}

func TestResponse_WithLinks_KeepsFilters(t *testing.T) {
	u, _ := url.Parse("/api/v1/invoices?status=unpaid&limit=20&offset=20")
	resp := NewResponse(nil, 100, 20, 20).WithLinks(u)

	next, err := url.Parse(resp.Next)
	if err != nil {
		t.Fatalf("parse next: %v", err)
	}
	if next.Path != "/api/v1/invoices" {
		t.Errorf("unexpected path %q", next.Path)
	}
	q := next.Query()
	if q.Get("status") != "unpaid" || q.Get("offset") != "40" || q.Get("limit") != "20" {
		t.Errorf("unexpected next query %q", next.RawQuery)
	}

	prev, _ := url.Parse(resp.Prev)
	if prev.Query().Get("offset") != "0" {
		t.Errorf("unexpected prev query %q", prev.RawQuery)
	}
}

func TestResponse_WithLinks_SinglePage(t *testing.T) {
	u, _ := url.Parse("/api/v1/payments")
	resp := NewResponse(nil, 3, 20, 0).WithLinks(u)
	if resp.Next != "" || resp.Prev != "" {
		t.Errorf("expected no links, got next=%q prev=%q", resp.Next, resp.Prev)
	}
}
