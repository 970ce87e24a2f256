package models

// ModelConfig 描述了一个可参与对比的模型配置。
type ModelConfig struct {
	Name        string `json:"name" yaml:"name"`               // 配置名称，对比结果以此为键
	Description string `json:"description" yaml:"description"` // 配置说明
	Endpoint    string `json:"endpoint" yaml:"endpoint"`       // 模型服务地址
	UsesRAG     bool   `json:"uses_rag" yaml:"uses_rag"`       // 是否使用检索增强
	ModelName   string `json:"model_name" yaml:"model_name"`   // 底层模型标识
}
