package mcp

const (
	ToolExecuteCommand = "execute-command"
	ToolSimpleHello    = "simple-hello"
)

var toolDescriptors = []Tool{
	{
		Name:        ToolExecuteCommand,
		Description: "Executes a shell command on the local system",
		InputSchema: Schema{
			Type: "object",
			Properties: map[string]Property{
				"command": {
					Type:        "string",
					Description: "The shell command to execute",
				},
				"workingDirectory": {
					Type:        "string",
					Description: "Optional working directory for the command execution",
				},
			},
			Required: []string{"command"},
		},
	},
	{
		Name:        ToolSimpleHello,
		Description: "Simple hello tool with correct schema",
		InputSchema: Schema{
			Type: "object",
			Properties: map[string]Property{
				"name": {
					Type:        "string",
					Description: "Name to greet (optional)",
				},
			},
			Required: []string{},
		},
	},
}

// ToolDescriptors returns the tools advertised by the server. The slice is a
// copy; the descriptors themselves never change.
func ToolDescriptors() []Tool {
	descriptors := make([]Tool, len(toolDescriptors))
	copy(descriptors, toolDescriptors)
	return descriptors
}

func lookupTool(name string) (Tool, bool) {
	for _, t := range toolDescriptors {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}
