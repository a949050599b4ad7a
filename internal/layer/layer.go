// Package layer defines the logical subsystem identities of the platform
// and the capability registry used for layer discovery.
//
// A layer is both a producer/subscriber identity on the event bus and an
// addressable delivery target. Capabilities are advisory tags a layer
// advertises; nothing in the core enforces them.
package layer

// ID identifies a logical subsystem.
type ID string

const (
	Hardware     ID = "hardware"
	P2P          ID = "p2p"
	Ledger       ID = "ledger"
	Oracle       ID = "oracle"
	Intelligence ID = "intelligence"
	AI           ID = "ai"
	Interface    ID = "interface"
	Apps         ID = "apps"
	System       ID = "system"
)

// All returns the well-known layers in dependency order (leaves first).
func All() []ID {
	return []ID{
		Hardware,
		P2P,
		Ledger,
		Oracle,
		Intelligence,
		AI,
		Interface,
		Apps,
		System,
	}
}

// Capability is an access tag a layer can provide. The well-known set below
// covers the platform's built-in layers; anything else is a custom tag;
// Capability is an open string type, so Capability("my_cap") is valid and
// compares by value.
type Capability string

const (
	// Hardware capabilities.
	CapCameraCapture Capability = "camera_capture"
	CapAudioCapture  Capability = "audio_capture"
	CapDisplay       Capability = "display"
	CapSensors       Capability = "sensors"

	// Network capabilities.
	CapP2PMessaging   Capability = "p2p_messaging"
	CapInternetAccess Capability = "internet_access"
	CapCloudStorage   Capability = "cloud_storage"

	// Ledger capabilities.
	CapTransactionProcessing Capability = "transaction_processing"
	CapSmartContracts        Capability = "smart_contracts"
	CapStateManagement       Capability = "state_management"

	// Oracle capabilities.
	CapDataQuery        Capability = "data_query"
	CapIntentProcessing Capability = "intent_processing"
	CapCommandExecution Capability = "command_execution"

	// AI capabilities.
	CapVisionProcessing      Capability = "vision_processing"
	CapSpeechRecognition     Capability = "speech_recognition"
	CapLanguageUnderstanding Capability = "natural_language_understanding"
	CapKnowledgeRetrieval    Capability = "knowledge_retrieval"

	// Interface capabilities.
	CapRendering       Capability = "rendering"
	CapHUDDisplay      Capability = "hud_display"
	CapVoiceInterface  Capability = "voice_interface"
	CapGestureTracking Capability = "gesture_tracking"

	// System capabilities.
	CapResourceManagement Capability = "resource_management"
	CapHealthMonitoring   Capability = "health_monitoring"
	CapFaultRecovery      Capability = "fault_recovery"
)
