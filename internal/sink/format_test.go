package sink

import (
	"strings"
	"testing"
)

func TestFormatHTML(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want []string
		not  []string
	}{
		{
			name: "level and escaped message",
			in:   `{"level":"error","message":"a < b & c","time":"2026-01-02 10:00:00"}`,
			want: []string{"<b>ERROR</b> a &lt; b &amp; c", "<i>2026-01-02 10:00:00</i>"},
		},
		{
			name: "sorted fields",
			in:   `{"level":"warn","message":"m","zeta":1,"alpha":"<x>"}`,
			want: []string{"<code>alpha</code>=&lt;x&gt;\n<code>zeta</code>=1"},
		},
		{
			name: "stack in pre",
			in:   `{"level":"error","message":"boom","stack":"main.go:1"}`,
			want: []string{"<pre><code>main.go:1</code></pre>"},
			not:  []string{"<code>stack</code>"},
		},
		{
			name: "not json",
			in:   "plain <text>\n",
			want: []string{"plain &lt;text&gt;"},
		},
		{
			name: "large numbers keep precision",
			in:   `{"message":"m","chat":-1001234567890123}`,
			want: []string{"-1001234567890123"},
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := FormatHTML([]byte(tc.in))
			for _, w := range tc.want {
				if !strings.Contains(got, w) {
					t.Fatalf("missing %q in %q", w, got)
				}
			}
			for _, n := range tc.not {
				if strings.Contains(got, n) {
					t.Fatalf("unexpected %q in %q", n, got)
				}
			}
		})
	}
}

func TestFormatHTMLEmpty(t *testing.T) {
	t.Parallel()
	if got := FormatHTML([]byte("  \n")); got != "" {
		t.Fatalf("got %q", got)
	}
}
