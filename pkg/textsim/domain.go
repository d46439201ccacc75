package textsim

import "regexp"

const GeneralDomain = "General Knowledge"

var domainRules = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{"Technology", regexp.MustCompile(`(?i)\b(?:javascript|python|react|code|programming|api|framework)\b`)},
	{"Digital Marketing", regexp.MustCompile(`(?i)\b(?:seo|marketing|content|traffic|optimization|keyword)\b`)},
	{"Artificial Intelligence", regexp.MustCompile(`(?i)\b(?:ai|machine learning|artificial intelligence|neural|model|chatbot)\b`)},
	{"Design", regexp.MustCompile(`(?i)\b(?:design|ui|ux|user experience|interface|visual)\b`)},
	{"Business", regexp.MustCompile(`(?i)\b(?:business|strategy|management|leadership|entrepreneurship)\b`)},
	{"Data Science", regexp.MustCompile(`(?i)\b(?:data|analytics|analysis|statistics|metrics)\b`)},
}

// Domain labels a name and description with the first matching knowledge
// domain, or GeneralDomain.
func Domain(name, description string) string {
	text := name + " " + description
	for _, r := range domainRules {
		if r.pattern.MatchString(text) {
			return r.name
		}
	}
	return GeneralDomain
}
