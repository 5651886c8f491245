package sourcekey

import "testing"

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		name string
		goos string
		in   string
		want string
	}{
		{"backslashes", "linux", `C:\docs\reports`, "C:/docs/reports"},
		{"double slashes", "linux", "/srv//shared///docs", "/srv/shared/docs"},
		{"trailing slash", "linux", "/srv/docs/", "/srv/docs"},
		{"bare root kept", "linux", "/", "/"},
		{"case preserved on linux", "linux", "/Srv/Docs", "/Srv/Docs"},
		{"case folded on windows", "windows", `C:\Docs\Reports\`, "c:/docs/reports"},
		{"already clean", "linux", "/srv/docs", "/srv/docs"},
		{"many slashes collapse", "linux", "////", "/"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := normalizePath(c.in, c.goos); got != c.want {
				t.Errorf("normalizePath(%q, %q) = %q, want %q", c.in, c.goos, got, c.want)
			}
		})
	}
}

func TestNormalizeRelative(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"docs/readme.md", "/docs/readme.md"},
		{"/docs/readme.md", "/docs/readme.md"},
		{`docs\readme.md`, "/docs/readme.md"},
		{"docs//readme.md", "/docs/readme.md"},
		{"docs/", "/docs"},
		{"/", "/"},
		{"", "/"},
	}
	for _, c := range cases {
		if got := NormalizeRelative(c.in); got != c.want {
			t.Errorf("NormalizeRelative(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestBuildAndResolveRoundTrip(t *testing.T) {
	key := Build(ScopeServer, "0d1f7a1e-53c7-4b6e-9a55-8e9a3c7d2f10", "docs/readme.md")
	want := "server:0d1f7a1e-53c7-4b6e-9a55-8e9a3c7d2f10:/docs/readme.md"
	if key != want {
		t.Fatalf("Build = %q, want %q", key, want)
	}

	k, ok := Resolve(key)
	if !ok {
		t.Fatalf("Resolve(%q) failed", key)
	}
	if k.Scope != ScopeServer {
		t.Errorf("Scope = %q, want server", k.Scope)
	}
	if k.Identity != "0d1f7a1e-53c7-4b6e-9a55-8e9a3c7d2f10" {
		t.Errorf("Identity = %q", k.Identity)
	}
	if k.RelativePath != "/docs/readme.md" {
		t.Errorf("RelativePath = %q, want /docs/readme.md", k.RelativePath)
	}
	if k.String() != key {
		t.Errorf("String() = %q, want %q", k.String(), key)
	}
}

func TestBuildNormalizesRelative(t *testing.T) {
	cases := []struct {
		rel  string
		want string
	}{
		{"docs/readme.md", "client:mac-123:/docs/readme.md"},
		{`docs\readme.md`, "client:mac-123:/docs/readme.md"},
		{"/docs//readme.md", "client:mac-123:/docs/readme.md"},
		{"/", "client:mac-123:/"},
	}
	for _, c := range cases {
		if got := Build(ScopeClient, "mac-123", c.rel); got != c.want {
			t.Errorf("Build(client, mac-123, %q) = %q, want %q", c.rel, got, c.want)
		}
	}
}

func TestResolveMalformed(t *testing.T) {
	bad := []string{
		"",
		"garbage",
		"client:missing-path-separator",
		"vault:abc:/docs/readme.md", // unknown scope
		"client::/docs/readme.md",   // empty identity
	}
	for _, key := range bad {
		if k, ok := Resolve(key); ok {
			t.Errorf("Resolve(%q) = %+v, want failure", key, k)
		}
	}
}

func TestResolveRelativeMayContainColons(t *testing.T) {
	k, ok := Resolve("server:root-1:/docs/report:2024.md")
	if !ok {
		t.Fatal("Resolve failed")
	}
	if k.RelativePath != "/docs/report:2024.md" {
		t.Errorf("RelativePath = %q", k.RelativePath)
	}
}

func TestRelativePath(t *testing.T) {
	cases := []struct {
		name string
		root string
		abs  string
		want string
	}{
		{"under root", "/srv/docs", "/srv/docs/reports/q1.pdf", "/reports/q1.pdf"},
		{"equal", "/srv/docs", "/srv/docs", "/"},
		{"equal after normalize", "/srv/docs/", "/srv//docs", "/"},
		{"not under root", "/srv/docs", "/var/tmp/x.txt", "/var/tmp/x.txt"},
		{"sibling prefix not confused", "/srv/docs", "/srv/docs-archive/x.txt", "/srv/docs-archive/x.txt"},
		{"backslash input", `C:\docs`, `C:\docs\a.txt`, "/a.txt"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := RelativePath(c.root, c.abs); got != c.want {
				t.Errorf("RelativePath(%q, %q) = %q, want %q", c.root, c.abs, got, c.want)
			}
		})
	}
}

func TestValidScope(t *testing.T) {
	if !ValidScope("client") || !ValidScope("server") {
		t.Error("client and server must be valid scopes")
	}
	if ValidScope("") || ValidScope("Client") || ValidScope("vault") {
		t.Error("unknown scopes must be invalid")
	}
}
