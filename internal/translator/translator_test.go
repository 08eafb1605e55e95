package translator_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/notification-delivery/internal/message"
	"github.com/example/notification-delivery/internal/translator"
)

// scripted answers per content string and records what it was asked.
type scripted struct {
	answers map[string]error
	asked   []string
}

func (s *scripted) Translate(_ context.Context, content message.Content) (message.Content, error) {
	s.asked = append(s.asked, content.String())
	if err, ok := s.answers[content.String()]; ok && err != nil {
		return nil, err
	}
	return message.StringContent{Text: "translated " + content.String()}, nil
}

func candidates(t *testing.T) (message.Content, message.Content, *message.MultiContent) {
	t.Helper()
	text := message.StringContent{Text: "text"}
	html := message.StringContent{Text: "html", Variant: message.VariantHTML}
	multi, err := message.NewMultiContent(text, html)
	require.NoError(t, err)
	return text, html, multi
}

func TestMultiSkipsRecoverableCandidate(t *testing.T) {
	text, _, multi := candidates(t)
	inner := &scripted{answers: map[string]error{
		"text": translator.Recoverable(text, translator.ErrTemplateNotFound),
	}}

	var skipped []error
	tr := translator.NewMultiContentTranslator(inner, zerolog.Nop(), translator.WithSkipHook(func(err error) {
		skipped = append(skipped, err)
	}))

	out, err := tr.Translate(context.Background(), multi)
	require.NoError(t, err)

	result, ok := out.(*message.MultiContent)
	require.True(t, ok)
	require.Equal(t, 1, result.Len())
	assert.Equal(t, "translated html", result.Contents()[0].String())
	assert.Len(t, skipped, 1)
}

func TestMultiAllRecoverableYieldsNoContent(t *testing.T) {
	text, html, multi := candidates(t)
	inner := &scripted{answers: map[string]error{
		"text": translator.Recoverable(text, errors.New("text template missing")),
		"html": translator.Recoverable(html, errors.New("html template missing")),
	}}

	_, err := translator.NewMultiContentTranslator(inner, zerolog.Nop()).Translate(context.Background(), multi)

	require.ErrorIs(t, err, translator.ErrNoContent)
	var noContent *translator.NoContentError
	require.ErrorAs(t, err, &noContent)
	require.Len(t, noContent.Causes, 2)
	assert.Equal(t,
		"translator: no content could be produced:\n"+
			"failed to translate text: text template missing\n"+
			"failed to translate html: html template missing",
		err.Error())
	assert.Less(t, strings.Index(err.Error(), "text template missing"), strings.Index(err.Error(), "html template missing"))
}

func TestMultiEmptyResultsAreRecordedAsCauses(t *testing.T) {
	_, _, multi := candidates(t)
	empty := translator.Func(func(context.Context, message.Content) (message.Content, error) {
		return nil, nil
	})

	var skipped []error
	_, err := translator.NewMultiContentTranslator(empty, zerolog.Nop(),
		translator.WithSkipHook(func(err error) { skipped = append(skipped, err) }),
	).Translate(context.Background(), multi)

	require.ErrorIs(t, err, translator.ErrNoContent)
	var noContent *translator.NoContentError
	require.ErrorAs(t, err, &noContent)
	require.Len(t, noContent.Causes, 2)
	for _, cause := range noContent.Causes {
		assert.ErrorIs(t, cause, translator.ErrEmptyResult)
		assert.True(t, translator.IsRecoverable(cause))
	}
	assert.Len(t, skipped, 2)
}

func TestNoContentWithoutCauses(t *testing.T) {
	err := &translator.NoContentError{}
	assert.Equal(t, "translator: no content could be produced: the message is empty", err.Error())
}

func TestMultiFatalAbortsBeforeLaterCandidates(t *testing.T) {
	text, _, multi := candidates(t)
	syntax := translator.Fatal(text, translator.ErrTemplateParse)
	inner := &scripted{answers: map[string]error{"text": syntax}}

	_, err := translator.NewMultiContentTranslator(inner, zerolog.Nop()).Translate(context.Background(), multi)

	require.ErrorIs(t, err, translator.ErrFatal)
	require.ErrorIs(t, err, translator.ErrTemplateParse)
	assert.Equal(t, []string{"text"}, inner.asked)
}

func TestMultiKeepsOrder(t *testing.T) {
	_, _, multi := candidates(t)
	inner := &scripted{}

	out, err := translator.NewMultiContentTranslator(inner, zerolog.Nop()).Translate(context.Background(), multi)
	require.NoError(t, err)
	assert.Equal(t, "multi[translated text, translated html]", out.String())
}

func TestMultiPassesSingleContentThrough(t *testing.T) {
	inner := &scripted{}
	out, err := translator.NewMultiContentTranslator(inner, zerolog.Nop()).
		Translate(context.Background(), message.StringContent{Text: "plain"})
	require.NoError(t, err)
	assert.Equal(t, "translated plain", out.String())
}

func TestEveryChainsOutputs(t *testing.T) {
	upper := translator.Func(func(_ context.Context, c message.Content) (message.Content, error) {
		return message.StringContent{Text: c.String() + "-a"}, nil
	})
	lower := translator.Func(func(_ context.Context, c message.Content) (message.Content, error) {
		return message.StringContent{Text: c.String() + "-b"}, nil
	})
	failing := translator.Func(func(_ context.Context, c message.Content) (message.Content, error) {
		return nil, translator.Fatal(c, errors.New("nope"))
	})

	out, err := translator.Every{upper, nil, lower}.Translate(context.Background(), message.StringContent{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, "x-a-b", out.String())

	_, err = translator.Every{upper, failing, lower}.Translate(context.Background(), message.StringContent{Text: "x"})
	require.ErrorIs(t, err, translator.ErrFatal)
}

func TestTemplateTranslator(t *testing.T) {
	fsys := fstest.MapFS{
		"mail/welcome.txt.tmpl":  {Data: []byte("Hello {{.Name}}")},
		"mail/welcome.html.tmpl": {Data: []byte("<p>Hello {{.Name}}</p>")},
		"mail/broken.txt.tmpl":   {Data: []byte("Hello {{.Name")},
		"mail/strict.txt.tmpl":   {Data: []byte("Hello {{.Missing}}")},
	}
	tr := translator.NewTemplateTranslator(fsys, translator.WithPrefix("mail"))
	data := map[string]string{"Name": "<Ada>"}
	ctx := context.Background()

	out, err := tr.Translate(ctx, message.TemplateContent{Path: "welcome", Variant: message.VariantText, Data: data})
	require.NoError(t, err)
	assert.Equal(t, message.StringContent{Text: "Hello <Ada>", Variant: message.VariantText}, out)

	out, err = tr.Translate(ctx, message.TemplateContent{Path: "welcome", Variant: message.VariantHTML, Data: data})
	require.NoError(t, err)
	assert.Equal(t, "<p>Hello &lt;Ada&gt;</p>", out.String())

	_, err = tr.Translate(ctx, message.TemplateContent{Path: "absent", Variant: message.VariantText})
	assert.True(t, translator.IsRecoverable(err))
	assert.ErrorIs(t, err, translator.ErrTemplateNotFound)

	_, err = tr.Translate(ctx, message.TemplateContent{Path: "broken", Variant: message.VariantText})
	assert.ErrorIs(t, err, translator.ErrFatal)
	assert.ErrorIs(t, err, translator.ErrTemplateParse)

	_, err = tr.Translate(ctx, message.TemplateContent{Path: "strict", Variant: message.VariantText, Data: map[string]string{}})
	assert.ErrorIs(t, err, translator.ErrFatal)

	literal := message.StringContent{Text: "as is"}
	out, err = tr.Translate(ctx, literal)
	require.NoError(t, err)
	assert.Equal(t, literal, out)
}

func TestTemplateFallbackThroughMulti(t *testing.T) {
	fsys := fstest.MapFS{
		"welcome.html.tmpl": {Data: []byte("<b>{{.}}</b>")},
	}
	chain := translator.NewMultiContentTranslator(translator.NewTemplateTranslator(fsys), zerolog.Nop())

	body, err := translator.Materialize(context.Background(), chain, message.MultiTemplateContent("welcome", "hi"))
	require.NoError(t, err)
	assert.Equal(t, "", body.Text)
	assert.Equal(t, "<b>hi</b>", body.HTML)
}

func TestMaterialize(t *testing.T) {
	ctx := context.Background()

	body, err := translator.Materialize(ctx, nil, message.StringContent{Text: "plain"})
	require.NoError(t, err)
	assert.Equal(t, translator.Body{Text: "plain"}, body)

	_, err = translator.Materialize(ctx, nil, message.TemplateContent{Path: "welcome"})
	assert.ErrorIs(t, err, translator.ErrFatal)

	_, err = translator.Materialize(ctx, nil, nil)
	assert.ErrorIs(t, err, translator.ErrNoContent)

	_, err = translator.Materialize(ctx, nil, message.StringContent{})
	assert.ErrorIs(t, err, translator.ErrNoContent)
}
