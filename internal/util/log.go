package util

const (
	// package keys
	PackageKey = "package"

	PackageMain      = "main"
	PackageSnapfind  = "snapfind"
	PackageConfig    = "config"
	PackageSource    = "source"
	PackageFetch     = "fetch"
	PackageTransform = "transform"
	PackageStorage   = "storage"
	PackageFacerec   = "facerec"
	PackageMetadata  = "metadata"
	PackagePipeline  = "pipeline"
	PackageIngest    = "ingest"

	// component keys
	ComponentKey = "component"

	ComponentMain           = "main"
	ComponentSnapfind       = "snapfind service"
	ComponentSourceResolver = "source resolver"
	ComponentFetcher        = "content fetcher"
	ComponentTransformer    = "image transformer"
	ComponentObjectStore    = "object store"
	ComponentFaceIndexer    = "face indexer"
	ComponentBranding       = "branding"
	ComponentStats          = "stats"
	ComponentOrchestrator   = "batch orchestrator"
	ComponentIngestHandler  = "ingest handler"
	ComponentSourcesHandler = "sources handler"

	// service keys
	ServiceKey = "service"

	ServiceIngest = "snapfind"
)
