package config

const (
	// TopicCrawl carries page fetch jobs for WebPage items.
	TopicCrawl = "ingest.crawl"

	// TopicMinify carries HTML reduction jobs for crawled pages.
	TopicMinify = "ingest.minify"

	// TopicTrain carries embedding and indexing jobs for every item kind.
	TopicTrain = "ingest.train"
)

// StageTopics lists the topics created at startup, in pipeline order.
var StageTopics = []string{TopicCrawl, TopicMinify, TopicTrain}
