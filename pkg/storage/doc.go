// Package storage implements the Task Store: the durable, transactional
// record of Repositories, Tasks, FileAnalyses, and ReadmeArtifacts that is
// the source of truth for crash-resume.
package storage
