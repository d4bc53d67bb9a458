package generation

import (
	"fmt"
	"strings"

	"forgebench/engine/internal/modifications"
)

const (
	TemplateReact = "react"
	TemplateNode  = "node"
)

// basePrompt is the design guidance sent ahead of React projects.
const basePrompt = "For all designs I ask you to make, have them be beautiful, not cookie cutter. " +
	"Make webpages that are fully featured and worthy for production.\n\n" +
	"By default, this template supports JSX syntax with Tailwind CSS classes, React hooks, and Lucide React for icons. " +
	"Do not install other packages for UI themes, icons, etc unless absolutely necessary or I request them.\n\n" +
	"Use icons from lucide-react for logos.\n\n" +
	"Use stock photos from unsplash where appropriate, only valid URLs you know exist. Do not download the images, only link to them in image tags."

const classifyPrompt = "Return either node or react based on what do you think this project should be. " +
	"Only return a single word either 'node' or 'react'. Do not return anything extra"

const reactArtifact = `<boltArtifact id="project-import" title="Project Files">
<boltAction type="file" filePath="package.json">{
  "name": "vite-react-app",
  "private": true,
  "version": "0.0.0",
  "type": "module",
  "scripts": {
    "dev": "vite",
    "build": "vite build",
    "preview": "vite preview"
  },
  "dependencies": {
    "lucide-react": "^0.344.0",
    "react": "^18.3.1",
    "react-dom": "^18.3.1"
  },
  "devDependencies": {
    "@vitejs/plugin-react": "^4.3.1",
    "autoprefixer": "^10.4.18",
    "postcss": "^8.4.35",
    "tailwindcss": "^3.4.1",
    "vite": "^5.4.2"
  }
}</boltAction>
<boltAction type="file" filePath="index.html"><!doctype html>
<html lang="en">
  <head>
    <meta charset="UTF-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1.0" />
    <title>Vite + React</title>
  </head>
  <body>
    <div id="root"></div>
    <script type="module" src="/src/main.jsx"></script>
  </body>
</html></boltAction>
<boltAction type="file" filePath="vite.config.js">import { defineConfig } from 'vite';
import react from '@vitejs/plugin-react';

export default defineConfig({
  plugins: [react()],
});</boltAction>
<boltAction type="file" filePath="tailwind.config.js">/** @type {import('tailwindcss').Config} */
export default {
  content: ['./index.html', './src/**/*.{js,jsx}'],
  theme: {
    extend: {},
  },
  plugins: [],
};</boltAction>
<boltAction type="file" filePath="postcss.config.js">export default {
  plugins: {
    tailwindcss: {},
    autoprefixer: {},
  },
};</boltAction>
<boltAction type="file" filePath="src/index.css">@tailwind base;
@tailwind components;
@tailwind utilities;</boltAction>
<boltAction type="file" filePath="src/main.jsx">import { StrictMode } from 'react';
import { createRoot } from 'react-dom/client';
import App from './App.jsx';
import './index.css';

createRoot(document.getElementById('root')).render(
  <StrictMode>
    <App />
  </StrictMode>
);</boltAction>
<boltAction type="file" filePath="src/App.jsx">function App() {
  return (
    <div className="min-h-screen bg-gray-100 flex items-center justify-center">
      <p>Start prompting (or editing) to see magic happen :)</p>
    </div>
  );
}

export default App;</boltAction>
</boltArtifact>`

const nodeArtifact = `<boltArtifact id="project-import" title="Project Files">
<boltAction type="file" filePath="package.json">{
  "name": "node-app",
  "version": "1.0.0",
  "private": true,
  "type": "module",
  "scripts": {
    "dev": "node index.js"
  }
}</boltAction>
<boltAction type="file" filePath="index.js">import http from 'node:http';

const port = 3000;
const server = http.createServer((req, res) => {
  res.writeHead(200, { 'Content-Type': 'text/plain' });
  res.end('Hello from Node');
});

server.listen(port, () => {
  console.log('Server running at http://localhost:' + port + '/');
});</boltAction>
</boltArtifact>`

// Template is the starting point for a project. Prompts are sent to the
// model ahead of the user's request; UIPrompts are applied to the workspace.
type Template struct {
	Name      string   `json:"name"`
	Prompts   []string `json:"prompts"`
	UIPrompts []string `json:"ui_prompts"`
}

// TemplateFor returns the named template. Names are matched after trimming
// and lower-casing; anything else is ErrUnknownTemplate.
func TemplateFor(answer string) (Template, error) {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case TemplateReact:
		return Template{
			Name:      TemplateReact,
			Prompts:   []string{basePrompt, projectContext(reactArtifact)},
			UIPrompts: []string{reactArtifact},
		}, nil
	case TemplateNode:
		return Template{
			Name:      TemplateNode,
			Prompts:   []string{projectContext(nodeArtifact)},
			UIPrompts: []string{nodeArtifact},
		}, nil
	default:
		return Template{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, answer)
	}
}

func projectContext(artifact string) string {
	return "Here is an artifact that contains all files of the project visible to you.\n" +
		"Consider the contents of ALL files in the project.\n\n" +
		artifact +
		"\n\nHere is a list of files that exist on the file system but are not being shown to you:\n\n" +
		"  - .gitignore\n  - package-lock.json\n"
}

func enhancePrompt(prompt string) string {
	return "Enhance this prompt to be more specific and detailed. " +
		"Create a single artifact with the improved prompt and nothing else.\n\n" +
		"<original_prompt>\n" + prompt + "\n</original_prompt>"
}

// SystemPrompt instructs the model to answer with bolt artifacts.
func SystemPrompt() string {
	return fmt.Sprintf(`You are an expert AI assistant and senior software developer with vast knowledge across programming languages, frameworks, and best practices.

<system_constraints>
  The project runs in a sandbox with Node.js and npm. The current working directory is %[1]s.
  Prefer Vite for web servers. Do not rely on native binaries.
</system_constraints>

<diff_spec>
  For user-made file modifications, a <%[2]s> section appears at the start of the user message.
  It contains a <file path="..."> element for every modified file with its full content.
  Always treat these as the current state of the files.
</diff_spec>

<artifact_info>
  Create a single, comprehensive artifact for each project:
  1. Wrap the content in <boltArtifact id="kebab-case-id" title="Title"> tags.
  2. Use <boltAction type="file" filePath="relative/path"> for every file, always with its COMPLETE content. Never use placeholders.
  3. Use <boltAction type="shell"> for commands. Add dependencies to package.json instead of installing them with a command.
  4. Order actions so that dependencies are written first, package.json before anything else.
  5. All file paths are relative to %[1]s.
</artifact_info>

Do not be verbose and do not explain anything unless asked. Respond with the artifact.`, modifications.WorkDir, "bolt_file_modifications")
}
