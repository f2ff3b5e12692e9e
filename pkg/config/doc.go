/*
Package config holds the server configuration: listen addresses, the
page-cache memory budget and logging options. Values come from an
optional YAML file with flag overrides on top; memory sizes accept
human units like 64MB or 1GB.
*/
package config
