package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gongplan/gong-api/internal/models"
	"github.com/gongplan/gong-api/internal/service"
)

type plannersStub map[string][]string

func (p plannersStub) IsPlanner(ctx context.Context, email, center string) (bool, error) {
	for _, name := range p[email] {
		if name == center {
			return true, nil
		}
	}
	return false, nil
}

func (p plannersStub) CentersFor(ctx context.Context, email string) ([]string, error) {
	return p[email], nil
}

func TestIssuePrintsValidToken(t *testing.T) {
	auth := service.NewAuthService(plannersStub{"p@example.org": {"Mahi", "Dhara"}}, nil, service.AuthConfig{Secret: "secret", Issuer: "gong", Expiry: time.Hour})

	var buf bytes.Buffer
	require.NoError(t, issue(context.Background(), &buf, auth, "p@example.org", "P", models.RolePlanner))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	claims, err := auth.ValidateToken(lines[0])
	require.NoError(t, err)
	assert.Equal(t, "p@example.org", claims.Email)
	assert.Equal(t, "centers: Mahi, Dhara", lines[2])
}

func TestIssueAdminAndUnknownPlanner(t *testing.T) {
	auth := service.NewAuthService(plannersStub{}, nil, service.AuthConfig{Secret: "secret"})
	ctx := context.Background()

	var buf bytes.Buffer
	require.NoError(t, issue(ctx, &buf, auth, "root@example.org", "", models.RoleAdmin))
	assert.Contains(t, buf.String(), "centers: all")

	buf.Reset()
	require.NoError(t, issue(ctx, &buf, auth, "new@example.org", "", models.RolePlanner))
	assert.Contains(t, buf.String(), "centers: none")

	assert.Error(t, issue(ctx, &buf, auth, "x@example.org", "", models.UserRole("root")))
}
