package ruleset

import (
	"net/url"
	"regexp"
)

// ModifyURL returns a copy of u with the rule's domain, path and query
// modifications applied. u itself is left untouched.
func (r Rule) ModifyURL(u *url.URL) *url.URL {
	newURL := *u
	mods := r.URLMods

	for _, urlMod := range mods.Domain {
		if re, err := regexp.Compile(urlMod.Match); err == nil {
			newURL.Host = re.ReplaceAllString(newURL.Host, urlMod.Replace)
		}
	}

	for _, urlMod := range mods.Path {
		if re, err := regexp.Compile(urlMod.Match); err == nil {
			newURL.Path = re.ReplaceAllString(newURL.Path, urlMod.Replace)
			newURL.RawPath = ""
		}
	}

	if len(mods.Query) > 0 {
		v := newURL.Query()
		for _, query := range mods.Query {
			if query.Value == "" {
				v.Del(query.Key)
				continue
			}
			v.Set(query.Key, query.Value)
		}
		newURL.RawQuery = v.Encode()
	}

	return &newURL
}
