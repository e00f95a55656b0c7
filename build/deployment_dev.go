//go:build !prod
// +build !prod

package build

// Deployment specifies a development build.
const Deployment = Development
