package aws

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRegistry = "123456789012.dkr.ecr.eu-central-1.amazonaws.com"

func TestAuthorizationToken(t *testing.T) {
	r := &fakeECR{GetAuthorizationTokenFunc: func(*ecr.GetAuthorizationTokenInput) (*ecr.GetAuthorizationTokenOutput, error) {
		return &ecr.GetAuthorizationTokenOutput{AuthorizationData: []ecrtypes.AuthorizationData{{
			AuthorizationToken: aws.String(base64.StdEncoding.EncodeToString([]byte("AWS:s3cr3t"))),
			ProxyEndpoint:      aws.String("https://" + testRegistry),
		}}}, nil
	}}

	creds, err := testClient(nil, nil, r).AuthorizationToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AWS", creds.Username)
	assert.Equal(t, "s3cr3t", creds.Password)
	assert.Equal(t, testRegistry, creds.Registry)
	assert.NotContains(t, creds.String(), "s3cr3t")
}

func TestAuthorizationToken_Malformed(t *testing.T) {
	tests := map[string]*ecr.GetAuthorizationTokenOutput{
		"no data":    {},
		"not base64": {AuthorizationData: []ecrtypes.AuthorizationData{{AuthorizationToken: aws.String("%%%")}}},
		"no colon": {AuthorizationData: []ecrtypes.AuthorizationData{{
			AuthorizationToken: aws.String(base64.StdEncoding.EncodeToString([]byte("nocolon"))),
		}}},
	}
	for name, out := range tests {
		t.Run(name, func(t *testing.T) {
			r := &fakeECR{GetAuthorizationTokenFunc: func(*ecr.GetAuthorizationTokenInput) (*ecr.GetAuthorizationTokenOutput, error) {
				return out, nil
			}}
			_, err := testClient(nil, nil, r).AuthorizationToken(context.Background())
			assert.Error(t, err)
		})
	}
}

func TestEnsureRepository_Existing(t *testing.T) {
	r := &fakeECR{
		DescribeRepositoriesFunc: func(*ecr.DescribeRepositoriesInput) (*ecr.DescribeRepositoriesOutput, error) {
			return &ecr.DescribeRepositoriesOutput{Repositories: []ecrtypes.Repository{{
				RepositoryUri: aws.String(testRegistry + "/app"),
			}}}, nil
		},
		CreateRepositoryFunc: func(*ecr.CreateRepositoryInput) (*ecr.CreateRepositoryOutput, error) {
			t.Fatal("CreateRepository must not be called")
			return nil, nil
		},
	}

	uri, err := testClient(nil, nil, r).EnsureRepository(context.Background(), "app", nil)
	require.NoError(t, err)
	assert.Equal(t, testRegistry+"/app", uri)
}

func TestEnsureRepository_Create(t *testing.T) {
	var created *ecr.CreateRepositoryInput
	r := &fakeECR{
		DescribeRepositoriesFunc: func(*ecr.DescribeRepositoriesInput) (*ecr.DescribeRepositoriesOutput, error) {
			return nil, apiErr("RepositoryNotFoundException")
		},
		CreateRepositoryFunc: func(in *ecr.CreateRepositoryInput) (*ecr.CreateRepositoryOutput, error) {
			created = in
			return &ecr.CreateRepositoryOutput{Repository: &ecrtypes.Repository{
				RepositoryUri: aws.String(testRegistry + "/app"),
			}}, nil
		},
	}

	uri, err := testClient(nil, nil, r).EnsureRepository(context.Background(), "app", map[string]string{"k3ssm/env": "dev"})
	require.NoError(t, err)
	assert.Equal(t, testRegistry+"/app", uri)
	require.NotNil(t, created)
	assert.True(t, created.ImageScanningConfiguration.ScanOnPush)
	require.Len(t, created.Tags, 1)
	assert.Equal(t, "dev", aws.ToString(created.Tags[0].Value))
}

func TestEnsureRepository_DescribeError(t *testing.T) {
	r := &fakeECR{DescribeRepositoriesFunc: func(*ecr.DescribeRepositoriesInput) (*ecr.DescribeRepositoriesOutput, error) {
		return nil, apiErr("AccessDeniedException")
	}}
	_, err := testClient(nil, nil, r).EnsureRepository(context.Background(), "app", nil)
	assert.Error(t, err)
}
