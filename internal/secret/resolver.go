// Package secret loads bot credentials by parameter name from SSM Parameter
// Store or, for local runs, from environment variables.
package secret

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"golang.org/x/sync/singleflight"
)

// ErrNotFound is returned when a named secret does not exist in the backend.
var ErrNotFound = errors.New("secret not found")

// SSMClient is the subset of *ssm.Client methods used by SSMResolver.
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Resolver retrieves secret values by parameter name.
type Resolver interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SSMResolver fetches SecureString parameters.
type SSMResolver struct {
	client SSMClient
}

// NewSSMResolver returns a Resolver backed by SSM Parameter Store.
func NewSSMResolver(client SSMClient) *SSMResolver {
	return &SSMResolver{client: client}
}

func (r *SSMResolver) GetSecret(ctx context.Context, name string) (string, error) {
	out, err := r.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var nf *ssmtypes.ParameterNotFound
		if errors.As(err, &nf) {
			return "", fmt.Errorf("%w: ssm parameter %q", ErrNotFound, name)
		}
		return "", fmt.Errorf("ssm get parameter %q: %w", name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil || *out.Parameter.Value == "" {
		return "", fmt.Errorf("%w: ssm parameter %q has no value", ErrNotFound, name)
	}
	return *out.Parameter.Value, nil
}

// EnvResolver reads the environment variable named after the last path
// segment of the parameter: "/gdrivebot/oauth-state-signing-key" reads
// OAUTH_STATE_SIGNING_KEY.
type EnvResolver struct {
	lookup func(string) (string, bool)
}

// NewEnvResolver returns a Resolver that reads from environment variables.
func NewEnvResolver() *EnvResolver {
	return &EnvResolver{lookup: os.LookupEnv}
}

func (r *EnvResolver) GetSecret(_ context.Context, name string) (string, error) {
	envName := EnvVarName(name)
	val, ok := r.lookup(envName)
	if !ok || val == "" {
		return "", fmt.Errorf("%w: environment variable %q (from param %q) is not set", ErrNotFound, envName, name)
	}
	return val, nil
}

// EnvVarName converts a parameter name to an environment variable name.
//
//	"/gdrivebot/google-client-secret" -> "GOOGLE_CLIENT_SECRET"
func EnvVarName(name string) string {
	parts := strings.Split(name, "/")
	last := parts[len(parts)-1]
	return strings.ToUpper(strings.ReplaceAll(last, "-", "_"))
}

// CachingResolver memoizes successful lookups for the life of the process,
// so a warm Lambda container reads each parameter once.
type CachingResolver struct {
	next  Resolver
	group singleflight.Group

	mu    sync.RWMutex
	cache map[string]string
}

// NewCachingResolver wraps next with a process-wide cache.
func NewCachingResolver(next Resolver) *CachingResolver {
	return &CachingResolver{next: next, cache: make(map[string]string)}
}

func (r *CachingResolver) GetSecret(ctx context.Context, name string) (string, error) {
	r.mu.RLock()
	val, ok := r.cache[name]
	r.mu.RUnlock()
	if ok {
		return val, nil
	}

	v, err, _ := r.group.Do(name, func() (any, error) {
		val, err := r.next.GetSecret(ctx, name)
		if err != nil {
			return "", err
		}
		r.mu.Lock()
		r.cache[name] = val
		r.mu.Unlock()
		return val, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
