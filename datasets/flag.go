package datasets

import (
	"flag"
	"path/filepath"
	"strings"
)

type dirList struct {
	dirs *[]string
	set  bool
}

func (d *dirList) String() string {
	if d.dirs == nil {
		return ""
	}
	return strings.Join(*d.dirs, string(filepath.ListSeparator))
}

// Set replaces the defaults on first use and appends afterwards, so the flag
// may be repeated or given a path list.
func (d *dirList) Set(v string) error {
	if !d.set {
		*d.dirs = nil
		d.set = true
	}
	for _, p := range filepath.SplitList(v) {
		if p != "" {
			*d.dirs = append(*d.dirs, p)
		}
	}
	return nil
}

// SetupFlags registers -datasets_dir and -datasets_url on fs, bound to l.
func SetupFlags(fs *flag.FlagSet, l *Locator) {
	fs.Var(&dirList{dirs: &l.Dirs}, "datasets_dir", "Directories searched for tile datasets (path list; repeatable)")
	fs.StringVar(&l.BaseURL, "datasets_url", l.BaseURL, "Base URL tile datasets are fetched from when not found locally")
}
