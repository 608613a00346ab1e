package naming

import "testing"

func TestSnakeCase(t *testing.T) {
	cases := map[string]string{
		"Duck":        "duck",
		"Donald":      "donald",
		"FOOBar":      "foo_bar",
		"BazBar":      "baz_bar",
		"RubberDuck":  "rubber_duck",
		"HTTPServer":  "http_server",
		"APIKey":      "api_key",
		"Todo":        "todo",
		"UserV2":      "user_v2",
		"ABC":         "abc",
		"SubBase":     "sub_base",
		"QazWsx":      "qaz_wsx",
		"AuditLogRow": "audit_log_row",
	}
	for in, want := range cases {
		if got := SnakeCase(in); got != want {
			t.Errorf("SnakeCase(%q) = %q, want %q", in, got, want)
		}
	}
}
