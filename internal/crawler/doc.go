// Package crawler defines the core types, collaborator contracts and error
// kinds shared by the crawl pipeline roles.
package crawler
