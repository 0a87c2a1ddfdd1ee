// Package service holds the registry through which tools are listed and
// executed. The fetch pipeline is registered as the "web" service; its tool
// IDs take the form service.tool, e.g. web.fetch.
//
//	registry := service.NewRegistry()
//	registry.Register(webfetch.NewProvider(pipeline))
//	result, err := registry.Execute(ctx, "web.fetch", params, appCtx)
package service
