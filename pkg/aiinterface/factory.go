package aiinterface

// ClientFactory 按提供商创建对话客户端
type ClientFactory interface {
	// NewClient 根据配置创建客户端
	NewClient(config *ClientConfig) (ChatClient, error)
}
