// ABOUTME: Help pages rendered from embedded markdown
// ABOUTME: Topics are listed in a fixed order, unknown ones last

package webadmin

import (
	"bytes"
	"html/template"
	"net/http"
	"path"
	"sort"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/2389/agent-console/internal/session"
)

const defaultHelpTopic = "getting-started"

// helpTopic represents a help documentation topic
type helpTopic struct {
	Slug   string
	Title  string
	Active bool
}

var helpTopicOrder = map[string]int{
	"getting-started": 1,
	"deploying":       2,
	"agentspace":      3,
	"troubleshooting": 4,
}

// handleHelp renders the help page
func (a *Admin) handleHelp(w http.ResponseWriter, r *http.Request, st *session.State) {
	selected := r.URL.Query().Get("topic")
	if selected == "" {
		selected = defaultHelpTopic
	}

	topics, err := listHelpTopics(selected)
	if err != nil {
		a.logger.Error("failed to read help docs", "error", err)
		http.Error(w, "Failed to load help", http.StatusInternalServerError)
		return
	}

	var content []byte
	for _, t := range topics {
		if t.Active {
			content, err = helpDocsFS.ReadFile(path.Join("docs/help", t.Slug+".md"))
			break
		}
	}
	if content == nil || err != nil {
		content = []byte("# Not Found\n\nThis help topic could not be found.")
	}

	var htmlBuf bytes.Buffer
	if err := goldmark.Convert(content, &htmlBuf); err != nil {
		a.logger.Error("failed to convert markdown", "error", err)
		htmlBuf.Reset()
		htmlBuf.WriteString("<p>Failed to render help content.</p>")
	}

	a.render(w, http.StatusOK, "help", "base", helpData{
		Title:     "Help",
		Tabs:      tabs,
		CSRFToken: getCSRFToken(r),
		BaseURL:   a.config.BaseURL,
		Principal: a.currentPrincipal(),
		Topics:    topics,
		Content:   template.HTML(htmlBuf.String()),
	})
}

func listHelpTopics(selected string) ([]helpTopic, error) {
	entries, err := helpDocsFS.ReadDir("docs/help")
	if err != nil {
		return nil, err
	}

	var topics []helpTopic
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		slug := strings.TrimSuffix(entry.Name(), ".md")
		topics = append(topics, helpTopic{
			Slug:   slug,
			Title:  formatHelpTitle(slug),
			Active: slug == selected,
		})
	}

	sort.Slice(topics, func(i, j int) bool {
		orderI, okI := helpTopicOrder[topics[i].Slug]
		orderJ, okJ := helpTopicOrder[topics[j].Slug]
		if !okI {
			orderI = 100
		}
		if !okJ {
			orderJ = 100
		}
		if orderI != orderJ {
			return orderI < orderJ
		}
		return topics[i].Slug < topics[j].Slug
	})
	return topics, nil
}

// formatHelpTitle converts a slug like "getting-started" to "Getting Started"
func formatHelpTitle(slug string) string {
	words := strings.Split(slug, "-")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
