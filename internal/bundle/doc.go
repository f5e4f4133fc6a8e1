// Package bundle describes deployable agent bundles and turns a catalogue
// entry into the artefacts the agent runtime needs.
//
// # Catalogue
//
// Bundles are declared in a catalogue file keyed by a stable bundle key:
//
//	tools_agent:
//	  module_path: agents_gallery.tools_agent.agent
//	  root_variable: root_agent
//	  requirements: ["google-adk==1.9.0"]
//	  extra_packages: ["./agents_gallery/tools_agent"]
//	  local_env_file: ./agents_gallery/tools_agent/.env
//	  ae_display_name: Tools Demo Agent
//	  description: An agent demonstrating simple tools.
//
// YAML and TOML are both accepted, chosen by file extension. When no
// catalogue is configured the embedded gallery is used. Entries that fail to
// decode or validate are reported individually and skipped.
//
// # Registry
//
// A Registry maps bundle keys to Factory functions. The default factory
// builds a bundle from agent source on disk: it checks that the entrypoint
// module defines the root variable, loads the bundle's env file, merges the
// requirement lists and packs the extra packages into a gzipped tarball.
package bundle
