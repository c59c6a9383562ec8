/*
Copyright The Polybackup Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package configparser contains the code required to fill a Go structure
// representing the configuration information, starting from an environment
// source and a data map.
//
// Fields are matched with the environment using the `env` tag, and the
// supported field types are strings, integers, booleans and string slices
// (rendered as comma-separated lists). A value that cannot be parsed
// falls back to the corresponding field of the defaults structure.
package configparser

import (
	"os"
	"reflect"
	"strconv"
	"strings"
)

// EnvironmentSource is where environment values are looked up. The OS
// environment is the only production source; specs can plug in a map.
type EnvironmentSource interface {
	Getenv(key string) string
}

// OsEnvironment reads the process environment
type OsEnvironment struct{}

// Getenv retrieves the value of the environment variable named by the key
func (OsEnvironment) Getenv(key string) string {
	return os.Getenv(key)
}

// ReadConfigMap reads the configuration from the environment and the
// passed in data map, writing the result into target. Target and defaults
// must be pointers to the same structure type.
func ReadConfigMap(target interface{}, defaults interface{}, data map[string]string) {
	readConfigMap(target, defaults, data, OsEnvironment{})
}

func readConfigMap(target interface{}, defaults interface{}, data map[string]string, env EnvironmentSource) {
	targetValue := reflect.ValueOf(target).Elem()
	defaultsValue := reflect.ValueOf(defaults).Elem()
	targetType := targetValue.Type()

	for index := 0; index < targetType.NumField(); index++ {
		field := targetType.Field(index)
		envName := field.Tag.Get("env")
		if envName == "" {
			continue
		}

		value := env.Getenv(envName)
		if value == "" {
			value = data[envName]
		}

		fieldValue := targetValue.Field(index)
		defaultValue := defaultsValue.Field(index)

		if value == "" {
			fieldValue.Set(defaultValue)
			continue
		}

		switch field.Type.Kind() {
		case reflect.String:
			fieldValue.SetString(value)

		case reflect.Slice:
			fieldValue.Set(reflect.ValueOf(splitAndTrim(value)))

		case reflect.Int:
			intValue, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				fieldValue.Set(defaultValue)
				continue
			}
			fieldValue.SetInt(intValue)

		case reflect.Bool:
			boolValue, err := strconv.ParseBool(value)
			if err != nil {
				fieldValue.Set(defaultValue)
				continue
			}
			fieldValue.SetBool(boolValue)

		default:
			fieldValue.Set(defaultValue)
		}
	}
}

// splitAndTrim slices a comma separated string into a slice of strings,
// removing the leading and trailing spaces from every item
func splitAndTrim(commaSeparatedList string) []string {
	list := strings.Split(commaSeparatedList, ",")
	for i := range list {
		list[i] = strings.TrimSpace(list[i])
	}
	return list
}
