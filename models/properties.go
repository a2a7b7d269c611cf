package models

// Custom property keys recorded on placement zones.
const (
	PropClusterType          = "__clusterType"
	PropClusterDetails       = "__clusterDetails"
	PropEnforcedStatus       = "__enforcedClusterStatus"
	PropCreationTimeMicros   = "__clusterCreationTimeMicros"
	PropZoneAvailableMemory  = "__availableMemory"
	PropZoneCPUUsage         = "__cpuUsage"
	PropZoneAutoGeneratedTag = "__autoGenerated"
)

// Custom property keys recorded on hosts.
const (
	PropAdapterType           = "__adapterDockerType"
	PropHostType              = "__containerHostType"
	PropCredentialsLink       = "__authCredentialsLink"
	PropPublicAddress         = "__publicAddress"
	PropDeploymentPolicy      = "__deploymentPolicyLink"
	PropHostAlias             = "__hostAlias"
	PropKubernetesEndpoint    = "__kubernetesEndpoint"
	PropKubernetesClusterName = "__kubernetesClusterName"
	PropKubernetesClusterUUID = "__kubernetesClusterUUID"
	PropContainerCount        = "__Containers"
	PropSystemContainerCount  = "__systemContainers"
	PropNumCores              = "__NCPU"

	// PropClusterOperation marks a host whose owning cluster is being
	// resized or removed by an external management system.
	PropClusterOperation = "__clusterOperation"
)

// Values of PropClusterOperation.
const (
	ClusterOperationProvisioning = "PROVISIONING"
	ClusterOperationResizing     = "RESIZING"
	ClusterOperationRemoving     = "REMOVING"
)

// AdapterTypes lists the accepted values of PropAdapterType.
var AdapterTypes = []string{"API", "SSH"}

// HostPropertyAllowlist is the set of host properties force-copied from an
// add-host request onto the stored host record. Keys missing from the
// request are written as explicit nulls.
var HostPropertyAllowlist = []string{
	PropAdapterType,
	PropHostType,
	PropCredentialsLink,
	PropPublicAddress,
	PropDeploymentPolicy,
	PropHostAlias,
	PropKubernetesEndpoint,
	PropKubernetesClusterName,
	PropKubernetesClusterUUID,
}
