package pathguard

import (
	"os"
	"path/filepath"
	"testing"
)

// newRoot returns a symlink-free temp root.
func newRoot(t *testing.T) string {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return root
}

func TestResolve_Inside(t *testing.T) {
	root := newRoot(t)
	if err := os.MkdirAll(filepath.Join(root, "pkg"), 0750); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		rel  string
		want string
	}{
		{"empty is root", "", root},
		{"dot is root", ".", root},
		{"plain file", "main.py", filepath.Join(root, "main.py")},
		{"nested existing", "pkg/render.py", filepath.Join(root, "pkg", "render.py")},
		{"missing parents", "a/b/c.txt", filepath.Join(root, "a", "b", "c.txt")},
		{"dotdot back inside", "pkg/../main.py", filepath.Join(root, "main.py")},
		{"absolute inside", filepath.Join(root, "pkg"), filepath.Join(root, "pkg")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Resolve(root, tc.rel)
			if err != nil {
				t.Fatalf("Resolve(%q): %v", tc.rel, err)
			}
			if got != tc.want {
				t.Errorf("Resolve(%q) = %q, want %q", tc.rel, got, tc.want)
			}
		})
	}
}

func TestResolve_Outside(t *testing.T) {
	root := newRoot(t)

	tests := []string{
		"..",
		"../",
		"../../etc/passwd",
		"pkg/../../secret",
		"a/b/../../../x",
		"/etc/passwd",
		"/",
		"../" + filepath.Base(root) + "evil/file",
	}
	for _, rel := range tests {
		t.Run(rel, func(t *testing.T) {
			got, err := Resolve(root, rel)
			if err == nil {
				t.Fatalf("Resolve(%q) = %q, want containment error", rel, got)
			}
			if !IsContainment(err) {
				t.Fatalf("error = %v, want *ContainmentError", err)
			}
			ce := err.(*ContainmentError)
			if ce.Path != rel {
				t.Errorf("ContainmentError.Path = %q, want caller path %q", ce.Path, rel)
			}
		})
	}
}

func TestResolve_NoSideEffects(t *testing.T) {
	root := newRoot(t)
	if _, err := Resolve(root, "../../new-dir/file.txt"); err == nil {
		t.Fatal("expected containment error")
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("root has %d entries after rejected resolve, want 0", len(entries))
	}
}

func TestResolve_SiblingPrefix(t *testing.T) {
	parent := newRoot(t)
	root := filepath.Join(parent, "work")
	sibling := filepath.Join(parent, "workevil")
	for _, d := range []string{root, sibling} {
		if err := os.MkdirAll(d, 0750); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := Resolve(root, sibling); !IsContainment(err) {
		t.Errorf("sibling with shared prefix: err = %v, want containment error", err)
	}
	if _, err := Resolve(root, "../workevil/x"); !IsContainment(err) {
		t.Errorf("relative sibling: err = %v, want containment error", err)
	}
}

func TestResolve_SymlinkEscape(t *testing.T) {
	root := newRoot(t)
	outside := newRoot(t)
	if err := os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("s"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := os.Symlink(outside, filepath.Join(root, "out")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if _, err := Resolve(root, "out/secret.txt"); !IsContainment(err) {
		t.Errorf("symlinked dir escape: err = %v, want containment error", err)
	}
	if _, err := Resolve(root, "out/new.txt"); !IsContainment(err) {
		t.Errorf("symlinked dir, missing file: err = %v, want containment error", err)
	}

	dangling := filepath.Join(root, "dangling.txt")
	if err := os.Symlink(filepath.Join(outside, "not-yet.txt"), dangling); err != nil {
		t.Fatal(err)
	}
	if _, err := Resolve(root, "dangling.txt"); !IsContainment(err) {
		t.Errorf("dangling symlink escape: err = %v, want containment error", err)
	}
}

func TestResolve_SymlinkInside(t *testing.T) {
	root := newRoot(t)
	if err := os.MkdirAll(filepath.Join(root, "real"), 0750); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "alias")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	got, err := Resolve(root, "alias/file.txt")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if want := filepath.Join(root, "real", "file.txt"); got != want {
		t.Errorf("Resolve = %q, want %q", got, want)
	}
}

func TestResolve_SymlinkedRoot(t *testing.T) {
	realDir := newRoot(t)
	link := filepath.Join(newRoot(t), "root-link")
	if err := os.Symlink(realDir, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	got, err := Resolve(link, "x.txt")
	if err != nil {
		t.Fatalf("Resolve through symlinked root: %v", err)
	}
	if want := filepath.Join(realDir, "x.txt"); got != want {
		t.Errorf("Resolve = %q, want %q", got, want)
	}
}

func TestResolve_RelativeRoot(t *testing.T) {
	if _, err := Resolve("relative/root", "x"); err == nil {
		t.Fatal("expected error for relative root")
	}
}

func TestWithin(t *testing.T) {
	tests := []struct {
		root, candidate string
		want            bool
	}{
		{"/srv/app", "/srv/app", true},
		{"/srv/app", "/srv/app/x", true},
		{"/srv/app/", "/srv/app/x", true},
		{"/srv/app", "/srv/apple", false},
		{"/srv/app", "/srv", false},
		{"/", "/anything", true},
	}
	for _, tc := range tests {
		if got := Within(tc.root, tc.candidate); got != tc.want {
			t.Errorf("Within(%q, %q) = %v, want %v", tc.root, tc.candidate, got, tc.want)
		}
	}
}
