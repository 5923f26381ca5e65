package runtime

import (
	"testing"

	"github.com/stretchr/testify/require"

	ociname "github.com/google/go-containerregistry/pkg/name"

	"github.com/cuemby/hyperbox/pkg/types"
)

func TestBuildDockerResourcesCPU(t *testing.T) {
	mc := int64(250)
	res := buildDockerResources(types.ResourceLimits{CPUMillicores: &mc})
	require.Equal(t, int64(25000), res.CPUQuota)
	require.Equal(t, int64(100000), res.CPUPeriod)
}

func TestBuildDockerResourcesEmpty(t *testing.T) {
	res := buildDockerResources(types.ResourceLimits{})
	require.Zero(t, res.CPUQuota)
	require.Nil(t, res.PidsLimit)
}

func TestBuildDockerPortsPublishedAndBare(t *testing.T) {
	exposed, bindings, err := buildDockerPorts([]types.PortMapping{
		{HostPort: 8080, ContainerPort: 80, Protocol: types.ProtocolTCP},
		{ContainerPort: 53, Protocol: types.ProtocolUDP},
	})
	require.NoError(t, err)
	require.Len(t, exposed, 2)
	require.Len(t, bindings, 1)

	b := bindings["80/tcp"]
	require.Len(t, b, 1)
	require.Equal(t, "8080", b[0].HostPort)

	require.Empty(t, bindings["53/udp"])
}

func TestBuildDockerPortsEmpty(t *testing.T) {
	exposed, bindings, err := buildDockerPorts(nil)
	require.NoError(t, err)
	require.Nil(t, exposed)
	require.Nil(t, bindings)
}

func TestValidateImageRefAcceptsWellFormedRefs(t *testing.T) {
	_, err := ociname.ParseReference(
		types.ImageRef{Repository: "library/alpine", Tag: "latest"}.FullName(),
		ociname.WeakValidation)
	require.NoError(t, err)
}

func TestValidateImageRefRejectsMalformedRepo(t *testing.T) {
	_, err := ociname.ParseReference(
		types.ImageRef{Repository: "UPPER case not allowed!!", Tag: "latest"}.FullName(),
		ociname.WeakValidation)
	require.Error(t, err)
}
