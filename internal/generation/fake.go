package generation

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"forgebench/engine/internal/llm"
)

// Fake is a Service with canned answers. A prompt mentioning "node" gets the
// node template; every chat reply rewrites src/App.jsx with the latest user
// request.
type Fake struct {
	mu        sync.Mutex
	chats     [][]llm.Message
	templates []string

	TemplateErr error
	ChatErr     error
	// Reply, when set, replaces the canned chat artifact.
	Reply func(messages []llm.Message) string
}

func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) Template(ctx context.Context, prompt string) (Template, error) {
	if err := ctx.Err(); err != nil {
		return Template{}, err
	}
	f.mu.Lock()
	f.templates = append(f.templates, prompt)
	err := f.TemplateErr
	f.mu.Unlock()
	if err != nil {
		return Template{}, err
	}
	if strings.Contains(strings.ToLower(prompt), TemplateNode) {
		return TemplateFor(TemplateNode)
	}
	return TemplateFor(TemplateReact)
}

func (f *Fake) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.chats = append(f.chats, llm.CloneMessages(messages))
	err := f.ChatErr
	reply := f.Reply
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	if reply != nil {
		return reply(messages), nil
	}
	return cannedArtifact(lastUserContent(messages)), nil
}

func (f *Fake) Enhance(ctx context.Context, prompt string, onDelta func(string)) (string, error) {
	var b strings.Builder
	for i, word := range strings.Fields("Build a polished, responsive " + prompt) {
		if err := ctx.Err(); err != nil {
			return b.String(), err
		}
		delta := word
		if i > 0 {
			delta = " " + word
		}
		b.WriteString(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	}
	return b.String(), nil
}

// Chats returns the message lists sent to Chat.
func (f *Fake) Chats() [][]llm.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]llm.Message, len(f.chats))
	for i, chat := range f.chats {
		out[i] = llm.CloneMessages(chat)
	}
	return out
}

func lastUserContent(messages []llm.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

func cannedArtifact(request string) string {
	title := strings.TrimSpace(request)
	if idx := strings.LastIndex(title, "\n"); idx >= 0 {
		title = strings.TrimSpace(title[idx+1:])
	}
	return fmt.Sprintf(`I'll update the app.

<boltArtifact id="generated-app" title="Generated App">
<boltAction type="file" filePath="src/App.jsx">function App() {
  return <h1>%s</h1>;
}

export default App;</boltAction>
<boltAction type="shell">npm run dev</boltAction>
</boltArtifact>`, strings.ReplaceAll(title, "<", "&lt;"))
}
