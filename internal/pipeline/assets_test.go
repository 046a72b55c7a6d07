package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/assetforge/internal/asset"
	"github.com/conneroisu/assetforge/internal/errors"
	"github.com/conneroisu/assetforge/internal/plugins"
)

const iconSVG = `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 24 24"><title>Home</title><path d="M0 0h24v24H0z"/></svg>
`

func TestSpriteCombinesSymbols(t *testing.T) {
	env := newEnv(t)
	writeSource(t, env, "src/images/home.svg", iconSVG)
	writeSource(t, env, "src/images/arrow.svg", `<svg viewBox="0 0 8 8"><g><svg><rect/></svg></g></svg>`)

	p := New("svgstore", env, Sprite{Output: "sprite.svg"}, Emit{Dir: "build/images"})

	first, err := p.Run(context.Background(), load(t, env, "src/images/*.svg"))
	require.NoError(t, err)
	require.Len(t, first, 1)

	sprite := first[0]
	assert.Equal(t, "build/images/sprite.svg", sprite.Path)
	assert.Equal(t, []string{"src/images/arrow.svg", "src/images/home.svg"}, sprite.Sources)

	content := string(sprite.Content)
	assert.Contains(t, content, `<symbol id="arrow" viewBox="0 0 8 8"><g><svg><rect/></svg></g></symbol>`)
	assert.Contains(t, content, `<symbol id="home" viewBox="0 0 24 24"><title>Home</title><path d="M0 0h24v24H0z"/></symbol>`)
	assert.Less(t, strings.Index(content, `id="arrow"`), strings.Index(content, `id="home"`))

	second, err := p.Run(context.Background(), load(t, env, "src/images/*.svg"))
	require.NoError(t, err)
	assert.Equal(t, sprite.Content, second[0].Content, "sprite output must be stable")
}

func TestSpriteNoInputs(t *testing.T) {
	artifacts, err := New("svgstore", newEnv(t), Sprite{Output: "sprite.svg"}, Emit{Dir: "build/images"}).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, artifacts)
}

func TestSpriteRejectsMissingRoot(t *testing.T) {
	b := &Batch{Env: &Env{}, Files: []*File{{Path: "src/images/x.svg", Kind: asset.KindSVG, Content: []byte("<g></g>")}}}
	err := Sprite{Output: "sprite.svg"}.Apply(context.Background(), b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no <svg> root element")
}

func TestInjectSprite(t *testing.T) {
	env := newEnv(t)
	page := "<!DOCTYPE html>\n<body>\n<!-- inject:svg --><!-- endinject -->\n<p>hi</p>\n</body>\n"
	writeSource(t, env, "src/index.html", page)
	writeSource(t, env, "build/images/sprite.svg", "<svg><symbol id=\"a\"></symbol></svg>\n")

	p := New("html", env, InjectSprite{Sprite: "build/images/sprite.svg"}, Emit{Dir: "build", Base: "src"})
	artifacts, err := p.Run(context.Background(), load(t, env, "src/*.html"))
	require.NoError(t, err)
	require.Len(t, artifacts, 1)

	out := readOutput(t, env, "build/index.html")
	assert.Contains(t, out, "<!-- inject:svg --><svg><symbol id=\"a\"></symbol></svg><!-- endinject -->")
	assert.Equal(t, []string{"build/images/sprite.svg", "src/index.html"}, artifacts[0].Sources)
	assert.Equal(t, page, readOutput(t, env, "src/index.html"), "sources are never rewritten")
}

func TestInjectSpriteMissingSprite(t *testing.T) {
	env := newEnv(t)
	page := "<!DOCTYPE html>\n<!-- inject:svg --><!-- endinject -->\n"
	writeSource(t, env, "src/index.html", page)

	artifacts, err := New("html", env, InjectSprite{Sprite: "build/images/sprite.svg"}, Emit{Dir: "build", Base: "src"}).
		Run(context.Background(), load(t, env, "src/*.html"))
	require.NoError(t, err)
	assert.Equal(t, page, string(artifacts[0].Content))
	assert.Equal(t, []string{"build/images/sprite.svg", "src/index.html"}, artifacts[0].Sources,
		"a sprite built later must rerun the markup")
}

func TestInlineImages(t *testing.T) {
	env := newEnv(t)
	png := []byte{0x89, 'P', 'N', 'G'}
	writeSource(t, env, "build/images/logo.png", string(png))
	writeSource(t, env, ".assetforge/stage/css/main.css", "a{background:inline(logo.png)}b{background:inline('logo.png')}")

	p := New("inline-images", env, InlineImages{BaseDir: "build/images"}, Emit{Dir: "build/css", Base: ".assetforge/stage/css"})
	artifacts, err := p.Run(context.Background(), load(t, env, ".assetforge/stage/css/*.css"))
	require.NoError(t, err)
	require.Len(t, artifacts, 1)

	uri := "url(data:image/png;base64," + base64.StdEncoding.EncodeToString(png) + ")"
	assert.Equal(t, "a{background:"+uri+"}b{background:"+uri+"}", readOutput(t, env, "build/css/main.css"))
	assert.Equal(t, []string{".assetforge/stage/css/main.css", "build/images/logo.png"}, artifacts[0].Sources)
}

func TestInlineImagesMissingFile(t *testing.T) {
	env := newEnv(t)
	writeSource(t, env, ".assetforge/stage/css/main.css", "a{background:inline(nope.png)}")

	_, err := New("inline-images", env, InlineImages{BaseDir: "build/images"}, Emit{Dir: "build/css"}).
		Run(context.Background(), load(t, env, ".assetforge/stage/css/*.css"))
	require.Error(t, err)
	assert.True(t, errors.IsIO(err))
	be, _ := errors.As(err)
	assert.Equal(t, "build/images/nope.png", be.Path)
	assert.Equal(t, "inline-images", be.Task)
}

func TestDataURI(t *testing.T) {
	assert.True(t, strings.HasPrefix(DataURI("a.svg", []byte("<svg/>")), "data:image/svg+xml;base64,"))
	assert.True(t, strings.HasPrefix(DataURI("a.unknownext", nil), "data:application/octet-stream;base64,"))
}

const hashPage = `<!DOCTYPE html>
<html>
<head>
  <link rel='stylesheet'   href="css/main.css">
  <link rel="icon" href="https://cdn.example.com/favicon.ico">
</head>
<body>
  <script src="js/main.min.js?v=1"></script>
  <script src="js/missing.js"></script>
</body>
</html>
`

func hashPipeline(env *Env) *Pipeline {
	return New("hashfiles", env,
		HashRefs{Dir: "build", Base: ".assetforge/stage", Exts: []string{".css", ".js"}},
		WriteManifest{Path: "build/manifest.json", Dir: "build"},
		Emit{Dir: "build", Base: ".assetforge/stage"},
	)
}

func TestHashRefsRewritesReferencesOnly(t *testing.T) {
	env := newEnv(t)
	writeSource(t, env, ".assetforge/stage/index.html", hashPage)
	writeSource(t, env, "build/css/main.css", "a{b:c}")
	writeSource(t, env, "build/js/main.min.js", "run();")

	artifacts, err := hashPipeline(env).Run(context.Background(), load(t, env, ".assetforge/stage/*.html"))
	require.NoError(t, err)

	cssHash := env.Hasher.Sum([]byte("a{b:c}"))
	jsHash := env.Hasher.Sum([]byte("run();"))

	expected := strings.NewReplacer(
		`href="css/main.css"`, `href="css/main.`+cssHash.String()+`.css"`,
		`src="js/main.min.js?v=1"`, `src="js/main.min.`+jsHash.String()+`.js?v=1"`,
	).Replace(hashPage)
	assert.Equal(t, expected, readOutput(t, env, "build/index.html"))

	assert.Equal(t, "a{b:c}", readOutput(t, env, "build/css/main."+cssHash.String()+".css"))
	assert.Equal(t, "run();", readOutput(t, env, "build/js/main.min."+jsHash.String()+".js"))

	var manifest map[string]string
	require.NoError(t, json.Unmarshal([]byte(readOutput(t, env, "build/manifest.json")), &manifest))
	assert.Equal(t, map[string]string{
		"css/main.css":   "css/main." + cssHash.String() + ".css",
		"js/main.min.js": "js/main.min." + jsHash.String() + ".js",
	}, manifest)

	paths := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		paths = append(paths, a.Path)
		assert.NotEmpty(t, a.Sources)
	}
	assert.Contains(t, paths, "build/index.html")
	assert.Contains(t, paths, "build/manifest.json")
}

func TestHashRefsByteIdenticalAcrossBuilds(t *testing.T) {
	env := newEnv(t)
	writeSource(t, env, ".assetforge/stage/index.html", hashPage)
	writeSource(t, env, "build/css/main.css", "a{b:c}")
	writeSource(t, env, "build/js/main.min.js", "run();")

	_, err := hashPipeline(env).Run(context.Background(), load(t, env, ".assetforge/stage/*.html"))
	require.NoError(t, err)
	first := readOutput(t, env, "build/index.html")

	_, err = hashPipeline(env).Run(context.Background(), load(t, env, ".assetforge/stage/*.html"))
	require.NoError(t, err)
	second := readOutput(t, env, "build/index.html")

	assert.Equal(t, first, second)
}

func TestHashRefsNoReferences(t *testing.T) {
	env := newEnv(t)
	writeSource(t, env, ".assetforge/stage/index.html", "<!DOCTYPE html><p>plain</p>")

	artifacts, err := hashPipeline(env).Run(context.Background(), load(t, env, ".assetforge/stage/*.html"))
	require.NoError(t, err)
	require.Len(t, artifacts, 1, "no manifest without hashed references")
	assert.Equal(t, "build/index.html", artifacts[0].Path)
}

func TestOptimizeUsesCollaborator(t *testing.T) {
	env := newEnv(t)
	writeSource(t, env, "src/images/a.png", "raw")
	writeSource(t, env, "src/images/notes.txt", "skip")

	calls := 0
	opt := optimizerFunc(func(_ context.Context, p string, data []byte) ([]byte, error) {
		calls++
		return append([]byte("opt:"), data...), nil
	})

	artifacts, err := New("images", env, Optimize{Optimizer: opt}, Emit{Dir: "build/images", Base: "src/images"}).
		Run(context.Background(), load(t, env, "src/images/**/*.png"))
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "opt:raw", readOutput(t, env, "build/images/a.png"))
}

type optimizerFunc func(ctx context.Context, p string, data []byte) ([]byte, error)

func (f optimizerFunc) Optimize(ctx context.Context, p string, data []byte) ([]byte, error) {
	return f(ctx, p, data)
}

var _ plugins.Optimizer = optimizerFunc(nil)

func TestPrefixErrorIsTransformError(t *testing.T) {
	env := newEnv(t)
	writeSource(t, env, "src/scss/main.scss", "a{}")

	_, err := New("style", env,
		Compile{Compiler: plugins.Passthrough{}},
		Prefix{Prefixer: &plugins.Command{Name: "rm"}},
	).Run(context.Background(), load(t, env, "src/scss/*.scss"))
	require.Error(t, err)
	assert.True(t, errors.IsTransform(err))
	be, _ := errors.As(err)
	assert.Equal(t, "autoprefix", be.Stage)

	_, statErr := os.Stat(env.Abs("src/scss/main.scss"))
	assert.NoError(t, statErr)
}
