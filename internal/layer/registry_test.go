package layer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndProviders(t *testing.T) {
	r := NewRegistry()
	r.Register(Advertisement{
		Layer:        AI,
		Capabilities: []Capability{CapVisionProcessing, CapSpeechRecognition},
		Version:      "0.1.0",
		Load:         0.2,
		Healthy:      true,
	})

	assert.Equal(t, []ID{AI}, r.Providers(CapVisionProcessing))
	assert.Equal(t, []ID{AI}, r.Providers(CapSpeechRecognition))
	assert.Empty(t, r.Providers(CapSmartContracts))
}

func TestReregisterReplaces(t *testing.T) {
	r := NewRegistry()
	r.Register(Advertisement{
		Layer:        AI,
		Capabilities: []Capability{CapVisionProcessing},
		Load:         0.9,
		Healthy:      true,
	})
	r.Register(Advertisement{
		Layer:        AI,
		Capabilities: []Capability{CapSpeechRecognition},
		Load:         0.1,
		Healthy:      true,
	})

	// The old capability set is gone, not merged.
	assert.Empty(t, r.Providers(CapVisionProcessing))
	assert.Equal(t, []ID{AI}, r.Providers(CapSpeechRecognition))

	ad, ok := r.Advertisement(AI)
	require.True(t, ok)
	assert.Equal(t, 0.1, ad.Load)
}

func TestUnregister(t *testing.T) {
	r := NewRegistry()
	r.Register(Advertisement{
		Layer:        Ledger,
		Capabilities: []Capability{CapSmartContracts},
		Healthy:      true,
	})

	r.Unregister(Ledger)
	assert.Empty(t, r.Providers(CapSmartContracts))
	_, ok := r.Advertisement(Ledger)
	assert.False(t, ok)

	r.Unregister(Ledger) // no-op
}

func TestBestProviderPrefersLowestLoad(t *testing.T) {
	r := NewRegistry()
	r.Register(Advertisement{
		Layer:        AI,
		Capabilities: []Capability{CapVisionProcessing},
		Load:         0.7,
		Healthy:      true,
	})
	r.Register(Advertisement{
		Layer:        Intelligence,
		Capabilities: []Capability{CapVisionProcessing},
		Load:         0.2,
		Healthy:      true,
	})

	best, ok := r.BestProvider(CapVisionProcessing)
	require.True(t, ok)
	assert.Equal(t, Intelligence, best)
}

func TestBestProviderSkipsUnhealthy(t *testing.T) {
	r := NewRegistry()
	r.Register(Advertisement{
		Layer:        Intelligence,
		Capabilities: []Capability{CapVisionProcessing},
		Load:         0.1,
		Healthy:      false,
	})
	r.Register(Advertisement{
		Layer:        AI,
		Capabilities: []Capability{CapVisionProcessing},
		Load:         0.9,
		Healthy:      true,
	})

	best, ok := r.BestProvider(CapVisionProcessing)
	require.True(t, ok)
	assert.Equal(t, AI, best)

	r.Unregister(AI)
	_, ok = r.BestProvider(CapVisionProcessing)
	assert.False(t, ok, "unhealthy providers are never selected")
}

func TestCanSatisfy(t *testing.T) {
	r := NewRegistry()
	r.Register(Advertisement{
		Layer:        Hardware,
		Capabilities: []Capability{CapCameraCapture, CapAudioCapture},
		Healthy:      true,
	})

	assert.True(t, r.CanSatisfy([]Capability{CapCameraCapture}))
	assert.True(t, r.CanSatisfy(nil))
	assert.False(t, r.CanSatisfy([]Capability{CapCameraCapture, CapSmartContracts}))
}

func TestLayersSorted(t *testing.T) {
	r := NewRegistry()
	r.Register(Advertisement{Layer: System, Healthy: true})
	r.Register(Advertisement{Layer: AI, Healthy: true})
	r.Register(Advertisement{Layer: Hardware, Healthy: true})

	assert.Equal(t, []ID{AI, Hardware, System}, r.Layers())
}

func TestAllDependencyOrder(t *testing.T) {
	all := All()
	require.Len(t, all, 9)
	assert.Equal(t, Hardware, all[0])
	assert.Equal(t, System, all[len(all)-1])
}
