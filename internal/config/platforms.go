package config

import "ztoapi/internal/platform"

// Platforms builds the descriptor registry. The two upstreams are built in;
// their endpoints can be repointed through the environment for staging hosts.
func Platforms(cfg *Config) *platform.Registry {
	zai := &platform.Descriptor{
		ID:             "zai",
		Name:           getEnv("PROVIDER_NAME", "Z.ai"),
		Brand:          getEnv("PROVIDER_BRAND", "Z.ai"),
		HomeURL:        getEnv("PROVIDER_HOME_URL", "https://chat.z.ai"),
		OriginBase:     getEnv("ORIGIN_BASE", "https://chat.z.ai"),
		APIBase:        getEnv("PLATFORM_API_BASE", "https://chat.z.ai"),
		RefererPrefix:  getEnv("REFERER_PREFIX", "/c/"),
		ChatURL:        getEnv("UPSTREAM_URL", "https://chat.z.ai/api/chat/completions"),
		AuthURL:        getEnv("AUTH_URL", "https://chat.z.ai/api/v1/auths/"),
		OwnedBy:        getEnv("OWNED_BY", "z.ai"),
		TokenHeader:    getEnv("PLATFORM_TOKEN_HEADER", "Authorization"),
		DefaultModelID: getEnv("UPSTREAM_MODEL_ID_DEFAULT", "0727-360B-API"),
		XFEVersion:     getEnv("X_FE_VERSION", "prod-fe-1.0.94"),
		Flow:           platform.FlowChat,
		SignRequests:   true,
	}

	zread := &platform.Descriptor{
		ID:             "zread",
		Name:           getEnv("ZREAD_PROVIDER_NAME", "zread.ai"),
		Brand:          getEnv("ZREAD_PROVIDER_BRAND", "zread.ai"),
		HomeURL:        getEnv("ZREAD_HOME_URL", "https://zread.ai"),
		OriginBase:     getEnv("ZREAD_ORIGIN_BASE", "https://zread.ai"),
		APIBase:        getEnv("ZREAD_API_BASE", "https://zread.ai"),
		RefererPrefix:  getEnv("ZREAD_REFERER_PREFIX", "/chat/"),
		ChatURL:        getEnv("ZREAD_UPSTREAM_URL", "https://zread.ai/api/v1/talks"),
		AuthURL:        getEnv("ZREAD_AUTH_URL", "https://zread.ai/api/v1/auths/"),
		OwnedBy:        getEnv("ZREAD_OWNED_BY", "zread.ai"),
		TokenHeader:    getEnv("ZREAD_TOKEN_HEADER", "Authorization"),
		DefaultModelID: getEnv("ZREAD_MODEL_ID_DEFAULT", "glm-4.5"),
		XFEVersion:     getEnv("ZREAD_X_FE_VERSION", "prod-fe-1.0.94"),
		Flow:           platform.FlowTalk,
		SignRequests:   false,
	}

	return platform.NewRegistry(cfg.DefaultPlatform, zai, zread)
}
