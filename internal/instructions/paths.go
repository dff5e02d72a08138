package instructions

import (
	"os"
	"path/filepath"

	"github.com/kandev/agentcore/internal/domain"
)

// projectInstructionFile names the file each CLI family reads for
// project-level instructions, consulted from the launch's working
// directory (or ProjectRoot if the launch didn't specify one).
var projectInstructionFile = map[domain.AgentType]string{
	domain.AgentTypeClaudeCode: "CLAUDE.md",
	domain.AgentTypeGeminiCLI:  "GEMINI.md",
	domain.AgentTypeSynthetic:  "SYNTHETIC.md",
}

// userInstructionFile names the file each CLI family reads for user-level
// instructions, resolved relative to the home directory.
var userInstructionFile = map[domain.AgentType]string{
	domain.AgentTypeClaudeCode: filepath.Join(".claude", "CLAUDE.md"),
	domain.AgentTypeGeminiCLI:  filepath.Join(".gemini", "GEMINI.md"),
	domain.AgentTypeSynthetic:  filepath.Join(".synthetic", "SYNTHETIC.md"),
}

// ConfigPaths resolves a launch's instruction file locations from the
// process's own home directory and the launch's configured working
// directory, falling back to ProjectRoot when the launch leaves
// WorkingDirectory unset.
type ConfigPaths struct {
	ProjectRoot string
	HomeDir     string
}

// NewConfigPaths builds a ConfigPaths, resolving the home directory via
// os.UserHomeDir when homeDir is empty.
func NewConfigPaths(projectRoot, homeDir string) ConfigPaths {
	if homeDir == "" {
		if h, err := os.UserHomeDir(); err == nil {
			homeDir = h
		}
	}
	return ConfigPaths{ProjectRoot: projectRoot, HomeDir: homeDir}
}

func (p ConfigPaths) PathsFor(req domain.LaunchRequest) Paths {
	projectFile, ok := projectInstructionFile[req.Type]
	if !ok {
		return Paths{}
	}
	userFile := userInstructionFile[req.Type]

	root := req.WorkingDirectory
	if root == "" {
		root = p.ProjectRoot
	}

	var paths Paths
	if root != "" {
		paths.ProjectLevel = filepath.Join(root, projectFile)
	}
	if p.HomeDir != "" && userFile != "" {
		paths.UserLevel = filepath.Join(p.HomeDir, userFile)
	}
	return paths
}
