package config

// Registry backends.
const (
	RegistryECR         = "ecr"
	RegistryArtifactory = "artifactory"
	RegistryNone        = "none"
)

// Config is the file model of one environment.
type Config struct {
	// Environment names the target and keys its state, tags and lock.
	Environment string `yaml:"environment"`
	Region      string `yaml:"region"`
	// Partition is "standard" or "restricted".
	Partition string `yaml:"partition"`

	SkipInstanceCreation bool `yaml:"skip_instance_creation"`
	SkipK3sInstall       bool `yaml:"skip_k3s_install"`

	Instance InstanceConfig  `yaml:"instance"`
	Existing *ExistingConfig `yaml:"existing_instance,omitempty"`
	Network  NetworkConfig   `yaml:"network"`
	K3s      K3sConfig       `yaml:"k3s"`

	State    StateConfig    `yaml:"state"`
	Identity IdentityConfig `yaml:"identity"`
	Registry RegistryConfig `yaml:"registry"`
	Deploy   DeployConfig   `yaml:"deploy"`
	Access   AccessConfig   `yaml:"access"`

	// OutputDir receives plan.json, kubeconfig, test-report.json and metrics.prom.
	OutputDir string `yaml:"output_dir"`
}

// InstanceConfig describes the EC2 instance to create.
type InstanceConfig struct {
	Name            string            `yaml:"name"`
	AMI             string            `yaml:"ami"`
	Type            string            `yaml:"type"`
	InstanceProfile string            `yaml:"instance_profile"`
	Volumes         []VolumeConfig    `yaml:"volumes"`
	Tags            map[string]string `yaml:"tags"`
}

// VolumeConfig is one EBS volume.
type VolumeConfig struct {
	DeviceName string `yaml:"device_name"`
	SizeGiB    int32  `yaml:"size_gib"`
	Type       string `yaml:"type"`
	Encrypted  bool   `yaml:"encrypted"`
}

// ExistingConfig selects a pre-existing instance when creation is skipped.
type ExistingConfig struct {
	Tags map[string]string `yaml:"tags"`
}

// NetworkConfig places the instance.
type NetworkConfig struct {
	VPCID            string   `yaml:"vpc_id"`
	SubnetID         string   `yaml:"subnet_id"`
	SecurityGroupIDs []string `yaml:"security_group_ids"`
}

// K3sConfig tunes the remote install.
type K3sConfig struct {
	// Version pins INSTALL_K3S_VERSION; empty installs the stable channel.
	Version string `yaml:"version"`
	// ExtraArgs are appended to the k3s server arguments.
	ExtraArgs []string `yaml:"extra_args"`
}

// StateConfig locates the remote state object and its lock table.
type StateConfig struct {
	Bucket    string `yaml:"bucket"`
	Key       string `yaml:"key"`
	LockTable string `yaml:"lock_table"`
}

// IdentityConfig holds the branch policy and the OIDC trust settings.
type IdentityConfig struct {
	// Issuer is the OIDC provider host, e.g. gitlab.com.
	Issuer string `yaml:"issuer"`
	// Audience is the expected token audience, e.g. https://gitlab.com.
	Audience    string `yaml:"audience"`
	ProjectPath string `yaml:"project_path"`

	MainRoleARN  string `yaml:"main_role_arn"`
	OtherRoleARN string `yaml:"other_role_arn"`

	// Policies attached by "k3ssm iam" to the generated roles.
	MainPolicyARNs  []string `yaml:"main_policy_arns"`
	OtherPolicyARNs []string `yaml:"other_policy_arns"`
}

// RegistryConfig selects where images are pushed.
type RegistryConfig struct {
	Type string `yaml:"type"`
	// URL is the Artifactory registry host; ECR derives it from the account.
	URL string `yaml:"url"`
	// RepositoryPrefix is prepended to every image repository.
	RepositoryPrefix string        `yaml:"repository_prefix"`
	Images           []ImageConfig `yaml:"images"`
}

// ImageConfig is one image of the application.
type ImageConfig struct {
	Name       string `yaml:"name"`
	Context    string `yaml:"context"`
	Dockerfile string `yaml:"dockerfile"`
}

// DeployConfig describes the Helm release.
type DeployConfig struct {
	Chart      string `yaml:"chart"`
	Release    string `yaml:"release"`
	Namespace  string `yaml:"namespace"`
	ValuesFile string `yaml:"values_file"`
	// Deployments are checked for availability by the test stage. Empty
	// means every deployment in the namespace.
	Deployments []string `yaml:"deployments"`
}

// AccessConfig controls how later stages reach the cluster API.
type AccessConfig struct {
	// Tunnel opens an SSM port-forward to 6443 instead of dialing the
	// private address directly.
	Tunnel bool `yaml:"tunnel"`
	// LocalPort for the tunnel; zero picks a free port.
	LocalPort int `yaml:"local_port"`
}
