package meta

type ModelType string

const (
	ModelSD15 ModelType = "SD15"
	ModelSDXL ModelType = "SDXL"
)

// SimpleModelType maps a host model class name to a standardized model type.
// The SD1.5 base class is the only one the host does not name after itself.
func SimpleModelType(className string) ModelType {
	if className == "BaseModel" {
		return ModelSD15
	}
	return ModelType(className)
}

func (m ModelType) IsXl() bool {
	return m == ModelSDXL
}
