package repo

import (
	"os"

	gitconfig "gopkg.in/src-d/go-git.v4/plumbing/format/config"

	"github.com/serhei/bunsen/internal/bunsenerr"
)

// Config is the typed view of <repo>/config, decoded with go-git's own
// git-config-format parser: the bracketed, quoted-subsection INI dialect
// ("[project \"name\"]") this config file uses is exactly what that
// package already parses for .git/config, so no bespoke INI reader is
// needed here.
type Config struct {
	Core         CoreSection
	Projects     map[string]ProjectSection
	BunsenUpload UploadSection

	raw *gitconfig.Config
}

// CoreSection is the [core] section.
type CoreSection struct {
	Project string
}

// ProjectSection is one [project "<name>"] section.
type ProjectSection struct {
	SourceRepo string
	GitwebURL  string
}

// UploadSection is the [bunsen-upload] section.
type UploadSection struct {
	Manifest         []string
	CommitModule     string
	ExtraLabelFields []string
}

// LoadConfig reads and decodes path.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, bunsenerr.Wrap(err, bunsenerr.BadConfig, "opening config "+path)
	}
	defer f.Close()

	raw := gitconfig.New()
	dec := gitconfig.NewDecoder(f)
	if err := dec.Decode(raw); err != nil {
		return nil, bunsenerr.Wrap(err, bunsenerr.BadConfig, "parsing config "+path)
	}
	return fromRaw(raw)
}

func fromRaw(raw *gitconfig.Config) (*Config, error) {
	cfg := &Config{Projects: map[string]ProjectSection{}, raw: raw}

	if s := raw.Section("core"); s != nil {
		cfg.Core.Project = s.Option("project")
	}

	if s := raw.Section("project"); s != nil {
		for _, sub := range s.Subsections {
			cfg.Projects[sub.Name] = ProjectSection{
				SourceRepo: sub.Option("source_repo"),
				GitwebURL:  sub.Option("gitweb_url"),
			}
		}
	}

	if s := raw.Section("bunsen-upload"); s != nil {
		cfg.BunsenUpload = UploadSection{
			Manifest:         splitCSV(s.Option("manifest")),
			CommitModule:     s.Option("commit_module"),
			ExtraLabelFields: splitCSV(s.Option("extra_label_fields")),
		}
	}

	return cfg, nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// Save writes cfg back to path in git-config form.
func (c *Config) Save(path string) error {
	raw := gitconfig.New()
	core := raw.Section("core")
	if c.Core.Project != "" {
		core.SetOption("project", c.Core.Project)
	}
	if len(c.Projects) > 0 {
		proj := raw.Section("project")
		for name, p := range c.Projects {
			sub := proj.Subsection(name)
			if p.SourceRepo != "" {
				sub.SetOption("source_repo", p.SourceRepo)
			}
			if p.GitwebURL != "" {
				sub.SetOption("gitweb_url", p.GitwebURL)
			}
		}
	}
	upload := raw.Section("bunsen-upload")
	if len(c.BunsenUpload.Manifest) > 0 {
		upload.SetOption("manifest", joinCSV(c.BunsenUpload.Manifest))
	}
	if c.BunsenUpload.CommitModule != "" {
		upload.SetOption("commit_module", c.BunsenUpload.CommitModule)
	}
	if len(c.BunsenUpload.ExtraLabelFields) > 0 {
		upload.SetOption("extra_label_fields", joinCSV(c.BunsenUpload.ExtraLabelFields))
	}

	f, err := os.Create(path)
	if err != nil {
		return bunsenerr.Wrap(err, bunsenerr.StoreIO, "creating config "+path)
	}
	defer f.Close()
	enc := gitconfig.NewEncoder(f)
	if err := enc.Encode(raw); err != nil {
		return bunsenerr.Wrap(err, bunsenerr.StoreIO, "writing config "+path)
	}
	return nil
}

func joinCSV(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}
