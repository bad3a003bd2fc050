// Package registry builds the application images and pushes them to ECR or
// Artifactory.
//
// Images are built by the docker CLI and exported with "docker save"; the
// push itself goes through go-containerregistry so no docker login is
// needed and credentials never touch the docker config.
package registry
