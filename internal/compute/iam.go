package compute

import (
	"encoding/json"
	"fmt"
)

// Service principals and managed policies used by App Runner.
const (
	TasksPrincipal = "tasks.apprunner.amazonaws.com"
	BuildPrincipal = "build.apprunner.amazonaws.com"

	XRayWritePolicy = "AWSXRayDaemonWriteAccess"
	ECRAccessPolicy = "AWSAppRunnerServicePolicyForECRAccess"

	SecretReadPolicyName = "AllowGetSecretValue"
)

// secretReadActions is the read-only set the runtime needs to fetch one
// secret by name.
var secretReadActions = []string{
	"secretsmanager:GetResourcePolicy",
	"secretsmanager:GetSecretValue",
	"secretsmanager:DescribeSecret",
	"secretsmanager:ListSecretVersionIds",
}

// Statement is one IAM policy statement.
type Statement struct {
	Effect   string   `json:"Effect" yaml:"effect"`
	Action   []string `json:"Action" yaml:"action"`
	Resource []string `json:"Resource" yaml:"resource"`
}

// Policy is an inline IAM policy document.
type Policy struct {
	Name       string      `json:"-" yaml:"name"`
	Version    string      `json:"Version" yaml:"version"`
	Statements []Statement `json:"Statement" yaml:"statements"`
}

// Document renders the policy as IAM JSON.
func (p Policy) Document() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal policy %s: %w", p.Name, err)
	}
	return string(b), nil
}

// Role is an IAM role assumed by one service principal.
type Role struct {
	Name            string   `json:"name" yaml:"name"`
	TrustedService  string   `json:"trustedService" yaml:"trustedService"`
	ManagedPolicies []string `json:"managedPolicies" yaml:"managedPolicies"`
	InlinePolicies  []Policy `json:"inlinePolicies,omitempty" yaml:"inlinePolicies,omitempty"`
}

// AssumeRolePolicy renders the trust policy for the role's principal.
func (r Role) AssumeRolePolicy() (string, error) {
	doc := map[string]any{
		"Version": "2012-10-17",
		"Statement": []map[string]any{{
			"Effect":    "Allow",
			"Principal": map[string]string{"Service": r.TrustedService},
			"Action":    "sts:AssumeRole",
		}},
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// SecretARNPattern matches one secret by name. Secrets Manager appends a
// random six character suffix to every ARN, hence the trailing "-*".
func SecretARNPattern(region, account, secretName string) string {
	return fmt.Sprintf("arn:aws:secretsmanager:%s:%s:secret:%s-*", region, account, secretName)
}

// SecretReadPolicy grants read access to exactly one secret name.
func SecretReadPolicy(region, account, secretName string) Policy {
	return Policy{
		Name:    SecretReadPolicyName,
		Version: "2012-10-17",
		Statements: []Statement{{
			Effect:   "Allow",
			Action:   append([]string(nil), secretReadActions...),
			Resource: []string{SecretARNPattern(region, account, secretName)},
		}},
	}
}
