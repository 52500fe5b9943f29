package deps

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phovea/productbuild/internal/product"
)

func binaries(tools []Tool) []string {
	var out []string
	for _, t := range tools {
		out = append(out, t.Binary)
	}
	return out
}

func TestRequired(t *testing.T) {
	web := &product.Part{Key: "web", Type: product.TypeWeb, IsWebType: true}
	api := &product.Part{Key: "api", Type: product.TypeAPI, IsServerType: true}
	db := &product.Part{Key: "db", Type: product.TypeService, IsServerType: true}

	assert.Equal(t, []string{"git", "yo", "npm", "docker"}, binaries(Required([]*product.Part{web}, Options{})))
	assert.Equal(t, []string{"git", "yo", "npm", "pip"}, binaries(Required([]*product.Part{web, api, db}, Options{SkipDocker: true})))
	assert.Equal(t, []string{"git", "/opt/yo", "npm", "docker"}, binaries(Required(nil, Options{Generator: "/opt/yo"})))
}

func TestCheck(t *testing.T) {
	installed := map[string]bool{"git": true, "npm": true}
	lookPath := func(bin string) (string, error) {
		if installed[bin] {
			return "/usr/bin/" + bin, nil
		}
		return "", errors.New("not found")
	}

	require.NoError(t, Check([]Tool{Git, NPM}, lookPath))

	err := Check([]Tool{Git, Yo, NPM, Docker}, lookPath)
	var merr *MissingToolsError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, []string{"yo", "docker"}, binaries(merr.Tools))
	assert.EqualError(t, err, "missing required tools: yo, docker")
}
