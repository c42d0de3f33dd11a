package patch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUpdateSimple(t *testing.T) {
	doc := "*** Begin Patch\n" +
		"*** Update File: foo.txt\n" +
		"@@\n" +
		" foo\n" +
		"-bar\n" +
		"+baz\n" +
		"*** End Patch\n"

	p, err := Parse(doc)
	require.NoError(t, err)
	require.Len(t, p.Hunks, 1)
	h := p.Hunks[0]
	assert.Equal(t, HunkUpdate, h.Kind)
	assert.Equal(t, "foo.txt", h.Update.Path)
	require.Len(t, h.Update.Chunks, 1)
	assert.Equal(t, []string{"foo", "bar"}, h.Update.Chunks[0].OldLines)
	assert.Equal(t, []string{"foo", "baz"}, h.Update.Chunks[0].NewLines)
}

func TestParseAddAndDelete(t *testing.T) {
	doc := "*** Begin Patch\n" +
		"*** Add File: a.txt\n" +
		"+hello\n" +
		"*** Delete File: b.txt\n" +
		"*** End Patch\n"

	p, err := Parse(doc)
	require.NoError(t, err)
	require.Len(t, p.Hunks, 2)
	assert.Equal(t, HunkAdd, p.Hunks[0].Kind)
	assert.Equal(t, "a.txt", p.Hunks[0].Add.Path)
	assert.Equal(t, "hello\n", p.Hunks[0].Add.Contents)
	assert.Equal(t, HunkDelete, p.Hunks[1].Kind)
	assert.Equal(t, "b.txt", p.Hunks[1].Delete.Path)
}

func TestParseMissingBeginFails(t *testing.T) {
	_, err := Parse("*** Update File: a.txt\n*** End Patch\n")
	require.Error(t, err)
}

func TestParseEOFWrapperTolerated(t *testing.T) {
	doc := "<<EOF\n" +
		"*** Begin Patch\n" +
		"*** Delete File: a.txt\n" +
		"*** End Patch\n" +
		"EOF\n"
	p, err := Parse(doc)
	require.NoError(t, err)
	require.Len(t, p.Hunks, 1)
}

func TestApplyUpdate_S4(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "foo.txt")
	require.NoError(t, os.WriteFile(path, []byte("foo\nbar\n"), 0o644))

	doc := "*** Begin Patch\n" +
		"*** Update File: foo.txt\n" +
		"@@\n" +
		" foo\n" +
		"-bar\n" +
		"+baz\n" +
		"*** End Patch\n"

	p, err := Parse(doc)
	require.NoError(t, err)
	summary, err := Apply(p, dir)
	require.NoError(t, err)
	assert.Contains(t, summary.Lines, "M foo.txt")

	out, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "foo\nbaz\n", string(out))
}

func TestApplyAddDelete_S5(t *testing.T) {
	dir := t.TempDir()
	bPath := filepath.Join(dir, "B.txt")
	require.NoError(t, os.WriteFile(bPath, []byte("old\n"), 0o644))

	doc := "*** Begin Patch\n" +
		"*** Add File: A.txt\n" +
		"+hello\n" +
		"*** Delete File: B.txt\n" +
		"*** End Patch\n"

	p, err := Parse(doc)
	require.NoError(t, err)
	summary, err := Apply(p, dir)
	require.NoError(t, err)
	assert.Contains(t, summary.Lines, "A A.txt")
	assert.Contains(t, summary.Lines, "D B.txt")

	out, err := os.ReadFile(filepath.Join(dir, "A.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(out))
	_, err = os.Stat(bPath)
	assert.True(t, os.IsNotExist(err))
}

func TestApplyMove(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "old.txt")
	require.NoError(t, os.WriteFile(src, []byte("x\n"), 0o644))

	doc := "*** Begin Patch\n" +
		"*** Update File: old.txt\n" +
		"*** Move to: new.txt\n" +
		"@@\n" +
		"-x\n" +
		"+y\n" +
		"*** End Patch\n"
	p, err := Parse(doc)
	require.NoError(t, err)
	_, err = Apply(p, dir)
	require.NoError(t, err)

	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))
	out, err := os.ReadFile(filepath.Join(dir, "new.txt"))
	require.NoError(t, err)
	assert.Equal(t, "y\n", string(out))
}

func TestApplyMissingContextFails(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "foo.txt"), []byte("a\nb\n"), 0o644))

	doc := "*** Begin Patch\n" +
		"*** Update File: foo.txt\n" +
		"@@ nonexistent\n" +
		"-a\n" +
		"+z\n" +
		"*** End Patch\n"
	p, err := Parse(doc)
	require.NoError(t, err)
	_, err = Apply(p, dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to find context")
}

func TestApplyFuzzyWhitespaceMatch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "foo.txt"), []byte("foo  \nbar\n"), 0o644))

	doc := "*** Begin Patch\n" +
		"*** Update File: foo.txt\n" +
		"@@\n" +
		" foo\n" +
		"-bar\n" +
		"+baz\n" +
		"*** End Patch\n"
	p, err := Parse(doc)
	require.NoError(t, err)
	_, err = Apply(p, dir)
	require.NoError(t, err)
	// The chunk's own lines replace the matched region, so the trailing
	// whitespace that only the file had does not survive.
	out, err := os.ReadFile(filepath.Join(dir, "foo.txt"))
	require.NoError(t, err)
	assert.Equal(t, "foo\nbaz\n", string(out))
}

func TestSerializeRoundTrip(t *testing.T) {
	doc := "*** Begin Patch\n" +
		"*** Add File: a.txt\n" +
		"+hello\n" +
		"*** End Patch\n"
	p, err := Parse(doc)
	require.NoError(t, err)
	p2, err := Parse(Serialize(p))
	require.NoError(t, err)
	assert.Equal(t, p, p2)
}

func TestApplyPrefersExactOccurrence(t *testing.T) {
	dir := t.TempDir()
	// "target  " (fuzzy candidate) appears before "target" (exact); the
	// exact tier runs first across the whole file, so the second wins.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "foo.txt"),
		[]byte("target  \nmiddle\ntarget\nend\n"), 0o644))

	doc := "*** Begin Patch\n" +
		"*** Update File: foo.txt\n" +
		"@@\n" +
		"-target\n" +
		"+replaced\n" +
		"*** End Patch\n"
	p, err := Parse(doc)
	require.NoError(t, err)
	_, err = Apply(p, dir)
	require.NoError(t, err)

	out, err := os.ReadFile(filepath.Join(dir, "foo.txt"))
	require.NoError(t, err)
	assert.Equal(t, "target  \nmiddle\nreplaced\nend\n", string(out))
}

func TestApplyEndOfFileAnchor(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "foo.txt"),
		[]byte("keep\nlast\n"), 0o644))

	doc := "*** Begin Patch\n" +
		"*** Update File: foo.txt\n" +
		"@@\n" +
		"-last\n" +
		"+final\n" +
		"*** End of File\n" +
		"*** End Patch\n"
	p, err := Parse(doc)
	require.NoError(t, err)
	require.True(t, p.Hunks[0].Update.Chunks[0].EndOfFile)

	_, err = Apply(p, dir)
	require.NoError(t, err)
	out, err := os.ReadFile(filepath.Join(dir, "foo.txt"))
	require.NoError(t, err)
	assert.Equal(t, "keep\nfinal\n", string(out))
}

func TestApplyUnicodeNormalizedMatch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "foo.txt"),
		[]byte("it’s — fine\nnext\n"), 0o644))

	doc := "*** Begin Patch\n" +
		"*** Update File: foo.txt\n" +
		"@@\n" +
		"-it's - fine\n" +
		"+changed\n" +
		"*** End Patch\n"
	p, err := Parse(doc)
	require.NoError(t, err)
	_, err = Apply(p, dir)
	require.NoError(t, err)
	out, err := os.ReadFile(filepath.Join(dir, "foo.txt"))
	require.NoError(t, err)
	assert.Equal(t, "changed\nnext\n", string(out))
}

func TestApplyIsAllOrNothing(t *testing.T) {
	dir := t.TempDir()
	okPath := filepath.Join(dir, "ok.txt")
	require.NoError(t, os.WriteFile(okPath, []byte("a\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.txt"), []byte("x\n"), 0o644))

	doc := "*** Begin Patch\n" +
		"*** Update File: ok.txt\n" +
		"@@\n" +
		"-a\n" +
		"+b\n" +
		"*** Update File: bad.txt\n" +
		"@@\n" +
		"-does-not-exist\n" +
		"+whatever\n" +
		"*** End Patch\n"
	p, err := Parse(doc)
	require.NoError(t, err)
	_, err = Apply(p, dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to find expected lines in bad.txt")

	// The earlier hunk resolved but nothing was written.
	out, err := os.ReadFile(okPath)
	require.NoError(t, err)
	assert.Equal(t, "a\n", string(out))
}

func TestApplyInsertionChunkAppends(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "foo.txt"),
		[]byte("one\ntwo\n"), 0o644))

	doc := "*** Begin Patch\n" +
		"*** Update File: foo.txt\n" +
		"@@\n" +
		"+three\n" +
		"*** End Patch\n"
	p, err := Parse(doc)
	require.NoError(t, err)
	_, err = Apply(p, dir)
	require.NoError(t, err)
	out, err := os.ReadFile(filepath.Join(dir, "foo.txt"))
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nthree\n", string(out))
}

func TestParseErrorCarriesLineNumber(t *testing.T) {
	doc := "*** Begin Patch\n" +
		"junk line\n" +
		"*** End Patch\n"
	_, err := Parse(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}
