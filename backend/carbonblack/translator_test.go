package carbonblack

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PhucNguyen204/cbquery/backend"
	"github.com/PhucNguyen204/cbquery/pkg/sigma"
)

func ruleOf(tree sigma.Node) sigma.RuleIR {
	return sigma.RuleIR{
		ID:        "test-rule",
		Title:     "test",
		Logsource: sigma.Logsource{Category: "process_creation", Product: "windows"},
		Tree:      tree,
	}
}

func item(field string, value any) sigma.MapItem {
	return sigma.MapItem{Field: field, Value: value}
}

func TestGenerateMappedFields(t *testing.T) {
	tr := New()
	ft := DefaultFieldTable()

	for _, field := range ft.Names() {
		spec, _ := ft.Lookup(field)
		if spec.Kind != FieldPlain {
			continue
		}
		t.Run(field, func(t *testing.T) {
			q, err := tr.Generate(ruleOf(item(field, "value1")))
			require.NoError(t, err)
			assert.Equal(t, spec.Target+":value1", q)
			assert.Equal(t, 1, strings.Count(q, spec.Target+":"))
			assert.NotContains(t, q, field+":")
		})
	}
}

func TestGenerateUnmappedField(t *testing.T) {
	tr := New()
	trees := map[string]sigma.Node{
		"single": item("NoSuchField", "x"),
		"or": sigma.Or{Children: []sigma.Node{
			item("User", "bob"),
			item("NoSuchField", "x"),
		}},
		"negated": sigma.Not{Child: item("NoSuchField", "x")},
	}
	for name, tree := range trees {
		t.Run(name, func(t *testing.T) {
			q, err := tr.Generate(ruleOf(tree))
			assert.Empty(t, q)
			var fe *backend.UnsupportedFieldError
			require.True(t, errors.As(err, &fe), "got %v", err)
			assert.Equal(t, "NoSuchField", fe.Field)
			assert.ErrorIs(t, err, backend.ErrNotSupported)
		})
	}
}

func TestGeneratePathFields(t *testing.T) {
	tests := []struct {
		name  string
		field string
		value string
		want  string
	}{
		{"parent bare name", "ParentImage", `*\cmd.exe`, "parent_name:cmd.exe"},
		{"parent forward slash", "ParentImage", "*/bash", "parent_name:bash"},
		{"target image", "TargetImage", `*\lsass.exe`, "childproc_name:lsass.exe"},
		{"parent without path", "ParentImage", "cmd.exe", "parent_name:cmd.exe"},
		{"image bare name", "Image", `*\powershell.exe`, "process_name:powershell.exe"},
		{"image full path", "Image", `C:\Windows\System32\cmd.exe`, `path:C:\Windows\System32\cmd.exe`},
		{"full path capable field", "TargetFilename", `C:\Users\Public\a.ps1`, `filemod:C:\Users\Public\a.ps1`},
		{"registry key", "TargetObject", `*\CurrentVersion\Run\*`, `regmod:*\CurrentVersion\Run\*`},
	}
	tr := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := tr.Generate(ruleOf(item(tt.field, tt.value)))
			require.NoError(t, err)
			assert.Equal(t, tt.want, q)
		})
	}
}

func TestGenerateMultiSegmentPathRejected(t *testing.T) {
	tr := New()
	for _, field := range []string{"ParentImage", "SourceImage", "TargetImage", "NewProcessName"} {
		t.Run(field, func(t *testing.T) {
			q, err := tr.Generate(ruleOf(item(field, `*\Windows\System32\cmd.exe`)))
			assert.Empty(t, q)
			var ve *backend.UnsupportedFeatureError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, field, ve.Field)
		})
	}
}

func TestSetFullPathAllowsMultiSegment(t *testing.T) {
	ft := DefaultFieldTable()
	require.True(t, ft.SetFullPath("ParentImage", true))
	assert.False(t, ft.SetFullPath("User", true))

	tr := New(WithFieldTable(ft))
	q, err := tr.Generate(ruleOf(item("ParentImage", `C:\Windows\explorer.exe`)))
	require.NoError(t, err)
	assert.Equal(t, `parent_name:C:\Windows\explorer.exe`, q)

	// bảng mặc định không bị ảnh hưởng
	_, err = New().Generate(ruleOf(item("ParentImage", `C:\Windows\explorer.exe`)))
	assert.Error(t, err)
}

func TestGenerateListValue(t *testing.T) {
	tr := New()
	q, err := tr.Generate(ruleOf(item("User", []string{"alice", "bob"})))
	require.NoError(t, err)
	assert.Equal(t, "(username:alice OR username:bob)", q)

	// mỗi phần tử được chuẩn hoá độc lập
	q, err = tr.Generate(ruleOf(item("ParentImage", []string{`*\a.exe`, `*\b.exe`})))
	require.NoError(t, err)
	assert.Equal(t, "(parent_name:a.exe OR parent_name:b.exe)", q)

	_, err = tr.Generate(ruleOf(item("ParentImage", []string{`*\a.exe`, `*\x\b.exe`})))
	var ve *backend.UnsupportedFeatureError
	assert.True(t, errors.As(err, &ve))
}

func TestGenerateCommandLine(t *testing.T) {
	tests := []struct {
		dialect Dialect
		value   string
		want    string
	}{
		{ResponseDialect(), `*\cmd.exe *`, `cmdline:\cmd.exe*`},
		{EDRDialect(), `*\cmd.exe *`, `cmdline:\cmd.exe*`},
		{CloudDialect(), `*\cmd.exe *`, `cmdline:*\cmd.exe*`},
		{ResponseDialect(), `* whoami`, `cmdline:whoami`},
		{ResponseDialect(), `*whoami /all*`, `(cmdline:whoami cmdline:/all*)`},
		{CloudDialect(), `*whoami /all*`, `(cmdline:*whoami cmdline:/all*)`},
		{ResponseDialect(), `*`, `cmdline:*`},
	}
	for _, tt := range tests {
		t.Run(tt.dialect.Name+"/"+tt.value, func(t *testing.T) {
			tr := New(WithDialect(tt.dialect))
			q, err := tr.Generate(ruleOf(item("CommandLine", tt.value)))
			require.NoError(t, err)
			assert.Equal(t, tt.want, q)
		})
	}
}

func TestGenerateForbiddenCharacter(t *testing.T) {
	tr := New()
	q, err := tr.Generate(ruleOf(sigma.And{Children: []sigma.Node{
		item("User", "a<b"),
		item("Company", "x"),
	}}))
	assert.Empty(t, q)

	var se *backend.UnsupportedSyntaxError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, "<", se.Token)
	assert.Equal(t, 10, se.Offset)

	_, err = tr.Generate(ruleOf(item("CommandLine", "cmd > out.txt")))
	require.True(t, errors.As(err, &se))
	assert.Equal(t, ">", se.Token)
}

func TestGenerateNullTests(t *testing.T) {
	tests := []struct {
		dialect       Dialect
		null, notNull string
	}{
		{ResponseDialect(), `-username:"*"`, `username:"*"`},
		{EDRDialect(), `-username:*`, `username:*`},
		{CloudDialect(), `NOT username:*`, `username:*`},
	}
	for _, tt := range tests {
		t.Run(tt.dialect.Name, func(t *testing.T) {
			tr := New(WithDialect(tt.dialect))
			q, err := tr.Generate(ruleOf(item("User", sigma.Null{})))
			require.NoError(t, err)
			assert.Equal(t, tt.null, q)

			q, err = tr.Generate(ruleOf(item("User", sigma.NotNull{})))
			require.NoError(t, err)
			assert.Equal(t, tt.notNull, q)
		})
	}
}

func TestGenerateIPv6Flag(t *testing.T) {
	tr := New(WithDialect(EDRDialect()))

	q, err := tr.Generate(ruleOf(item("DestinationIsIpv6", "true")))
	require.NoError(t, err)
	assert.Equal(t, "ipv6addr:*", q)

	q, err = tr.Generate(ruleOf(item("DestinationIsIpv6", "false")))
	require.NoError(t, err)
	assert.Equal(t, "-ipv6addr:*", q)

	_, err = tr.Generate(ruleOf(item("DestinationIsIpv6", "maybe")))
	var ve *backend.UnsupportedFeatureError
	assert.True(t, errors.As(err, &ve))
}

func TestGenerateEscaping(t *testing.T) {
	tests := []struct {
		dialect Dialect
		want    string
	}{
		{ResponseDialect(), `username:John\ \"JD\"\ Doe(x):y`},
		{EDRDialect(), `username:John\ \"JD\"\ Doe\(x\)\:y`},
		{CloudDialect(), `username:John\ \"JD\"\ Doe\(x\)\:y`},
	}
	for _, tt := range tests {
		t.Run(tt.dialect.Name, func(t *testing.T) {
			q, err := New(WithDialect(tt.dialect)).Generate(ruleOf(item("User", `John "JD" Doe(x):y`)))
			require.NoError(t, err)
			assert.Equal(t, tt.want, q)
		})
	}
}

func TestGenerateDoubleNegation(t *testing.T) {
	tree := sigma.Not{Child: sigma.Not{Child: item("User", "a")}}
	group := sigma.Not{Child: sigma.Not{Child: sigma.And{Children: []sigma.Node{
		item("User", "a"), item("Company", "b"),
	}}}}

	tests := []struct {
		dialect Dialect
		tree    sigma.Node
		want    string
	}{
		{ResponseDialect(), tree, "-(-username:a)"},
		{EDRDialect(), tree, "(username:a)"},
		{CloudDialect(), tree, "(username:a)"},
		{EDRDialect(), group, "(username:a company_name:b)"},
		{CloudDialect(), group, "(username:a company_name:b)"},
	}
	for _, tt := range tests {
		t.Run(tt.dialect.Name, func(t *testing.T) {
			q, err := New(WithDialect(tt.dialect)).Generate(ruleOf(tt.tree))
			require.NoError(t, err)
			assert.Equal(t, tt.want, q)
		})
	}
}

func TestGenerateKeywords(t *testing.T) {
	tr := New(WithDialect(EDRDialect()))
	q, err := tr.Generate(ruleOf(sigma.ListValue{Items: []string{"mimikatz", "sekurlsa::logonpasswords"}}))
	require.NoError(t, err)
	assert.Equal(t, `(mimikatz OR sekurlsa\:\:logonpasswords)`, q)
}

func TestGenerateKeywordLeadingNegation(t *testing.T) {
	dash := sigma.Keyword("-foo")
	word := sigma.Keyword("not evil")

	tests := []struct {
		name    string
		dialect Dialect
		tree    sigma.Node
		want    string
	}{
		{"response/keyword", ResponseDialect(), dash, `\-foo`},
		{"response/negated", ResponseDialect(), sigma.Not{Child: dash}, `-\-foo`},
		{"edr/keyword", EDRDialect(), dash, `\-foo`},
		{"edr/negated", EDRDialect(), sigma.Not{Child: dash}, `-\-foo`},
		{"cloud/keyword", CloudDialect(), dash, `\-foo`},
		{"cloud/negated", CloudDialect(), sigma.Not{Child: dash}, `NOT \-foo`},
		{"cloud/not word", CloudDialect(), word, `\not\ evil`},
		{"cloud/bare NOT", CloudDialect(), sigma.Keyword("NOT"), `\NOT`},
		{"cloud/negated NOT", CloudDialect(), sigma.Not{Child: sigma.Keyword("NOT")}, `NOT \NOT`},
		{"cloud/prefix only", CloudDialect(), sigma.Keyword("nothing"), `nothing`},
		{"edr/list", EDRDialect(), sigma.ListValue{Items: []string{"-a", "b"}}, `(\-a OR b)`},
		{"edr/field value untouched", EDRDialect(), item("User", "-foo"), `username:-foo`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := New(WithDialect(tt.dialect)).Generate(ruleOf(tt.tree))
			require.NoError(t, err)
			assert.Equal(t, tt.want, q)
		})
	}
}

func TestGenerateNilTree(t *testing.T) {
	_, err := New().Generate(sigma.RuleIR{ID: "empty"})
	assert.Error(t, err)
}

func TestTranslateTable(t *testing.T) {
	rule := ruleOf(item("User", "bob"))

	res, err := New().Translate(rule)
	require.NoError(t, err)
	assert.Equal(t, Result{RuleID: "test-rule", Title: "test", Query: "username:bob"}, res)

	res, err = New(WithTableSelector(DefaultCategoryTables())).Translate(rule)
	require.NoError(t, err)
	assert.Equal(t, "process", res.Table)

	rule.Logsource = sigma.Logsource{Category: "webserver"}
	res, err = New(WithTableSelector(DefaultCategoryTables())).Translate(rule)
	require.NoError(t, err)
	assert.Empty(t, res.Table)
}

func TestTranslatorConcurrentUse(t *testing.T) {
	tr := New(WithDialect(EDRDialect()))
	var wg sync.WaitGroup
	errs := make(chan error, 64)

	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rule := sigma.RuleIR{
				ID:        fmt.Sprintf("r%d", i),
				Logsource: sigma.Logsource{Category: fmt.Sprintf("cat%d", i)},
				Tree:      item("User", fmt.Sprintf("user%d", i)),
			}
			q, err := tr.Generate(rule)
			if err != nil {
				errs <- err
				return
			}
			if want := fmt.Sprintf("username:user%d", i); q != want {
				errs <- fmt.Errorf("got %q, want %q", q, want)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestGoldenRules(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "rules", "*.yml"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	g := goldie.New(t, goldie.WithFixtureDir(filepath.Join("testdata", "golden")), goldie.WithNameSuffix(".golden"))

	for _, file := range files {
		b, err := os.ReadFile(file)
		require.NoError(t, err)
		rules, err := sigma.LoadRuleYAML(b)
		require.NoError(t, err)
		require.Len(t, rules, 1)

		base := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		for _, d := range Dialects() {
			name := base + "_" + d.Name
			t.Run(name, func(t *testing.T) {
				q, err := New(WithDialect(d)).Generate(rules[0])
				require.NoError(t, err)
				g.Assert(t, name, []byte(q))
			})
		}
	}
}
