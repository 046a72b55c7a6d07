package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateArgument(t *testing.T) {
	tests := []struct {
		name    string
		arg     string
		wantErr bool
	}{
		{name: "plain flag", arg: "--stdin", wantErr: false},
		{name: "flag with value", arg: "--style=compressed", wantErr: false},
		{name: "relative path", arg: "src/scss", wantErr: false},
		{name: "semicolon", arg: "--stdin; rm -rf /", wantErr: true},
		{name: "pipe", arg: "x | cat", wantErr: true},
		{name: "backtick", arg: "`whoami`", wantErr: true},
		{name: "traversal", arg: "../../etc/passwd", wantErr: true},
		{name: "absolute path", arg: "/home/user/file", wantErr: true},
		{name: "system binary", arg: "/usr/bin/sass", wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateArgument(tt.arg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateCommand(t *testing.T) {
	assert.NoError(t, ValidateCommand("sass", AllowedCommands))
	assert.NoError(t, ValidateCommand("/usr/bin/postcss", AllowedCommands))
	assert.Error(t, ValidateCommand("", AllowedCommands))
	assert.Error(t, ValidateCommand("rm", AllowedCommands))
	assert.Error(t, ValidateCommand("sass;ls", map[string]bool{"sass;ls": true}))
}

func TestValidatePath(t *testing.T) {
	tests := []struct {
		path    string
		wantErr bool
	}{
		{"build", false},
		{"./build/out", false},
		{".assetforge/stage", false},
		{"..foo", false},
		{"", true},
		{"/tmp/build", true},
		{"../build", true},
		{"build/../../x", true},
		{"build;rm", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			err := ValidatePath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateOrigin(t *testing.T) {
	allowed := []string{"localhost:3000", "127.0.0.1:3000"}

	assert.NoError(t, ValidateOrigin("http://localhost:3000", allowed))
	assert.NoError(t, ValidateOrigin("https://127.0.0.1:3000", allowed))
	assert.Error(t, ValidateOrigin("", allowed))
	assert.Error(t, ValidateOrigin("file:///etc/passwd", allowed))
	assert.Error(t, ValidateOrigin("http://evil.example", allowed))
}

func TestValidateOriginFullMatch(t *testing.T) {
	assert.NoError(t, ValidateOrigin("http://dev.local:8080", []string{"http://dev.local:8080"}))
	assert.Error(t, ValidateOrigin("https://dev.local:8080", []string{"http://dev.local:8080"}))
}
